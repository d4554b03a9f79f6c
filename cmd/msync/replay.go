package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/steveyegge/modelsync/internal/replay"
	"github.com/steveyegge/modelsync/internal/ui"
	"github.com/steveyegge/modelsync/internal/vcs"

	// Register the revision source backends.
	_ "github.com/steveyegge/modelsync/internal/vcs/git"
	_ "github.com/steveyegge/modelsync/internal/vcs/jj"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay repository history through the synchronizer",
	Long: `Replay checks out each revision of the repository at the source root into
a scratch workspace and runs one update cycle per revision with the files
that revision changed.

A cycle that fails and is rolled back does not stop the replay: its changes
are carried into the next revision. Invalid change records and interrupts do.

Example usage:
  msync replay                          # the whole first-parent history
  msync replay --from v1.2 --to main
  msync replay --since "two weeks ago"
  MSYNC_VCS=git msync replay            # prefer git in a colocated repo`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		sinceText, _ := cmd.Flags().GetString("since")
		dir, _ := cmd.Flags().GetString("checkout")
		keep, _ := cmd.Flags().GetBool("keep")

		since, err := parseSince(sinceText, time.Now())
		if err != nil {
			return err
		}

		h, err := vcs.Open(cfg.SourceRoot)
		if err != nil {
			return err
		}

		if dir == "" {
			tmp, err := os.MkdirTemp("", "msync-replay-")
			if err != nil {
				return fmt.Errorf("failed to create checkout directory: %w", err)
			}
			defer os.RemoveAll(tmp)
			dir = filepath.Join(tmp, "checkout")
		}
		dir, err = filepath.Abs(dir)
		if err != nil {
			return err
		}

		e, err := openEnv(cfg, dir)
		if err != nil {
			return err
		}
		defer e.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Replaying %s history of %s\n", ui.RenderAccent(h.Name().String()), h.Root())

		res, err := replay.Run(cmd.Context(), h, e.sync, replay.Options{
			Dir:    dir,
			From:   from,
			To:     to,
			Since:  since,
			Keep:   keep,
			Logger: e.sink.Logger("replay"),
		}, func(step replay.Step) {
			if step.Err != nil {
				ui.PrintError(out, step.Revision.Short(), step.Err)
				return
			}
			ui.PrintReport(out, step.Report)
		})
		if res != nil {
			fmt.Fprintf(out, "\n%d of %d revisions committed, last %s\n", res.Committed, res.Revisions, res.Last)
			ui.PrintStats(out, e.sync.Stats())
		}
		return err
	},
}

// parseSince accepts an RFC 3339 time, a YYYY-MM-DD date or natural
// language such as "two weeks ago". Empty means no lower bound.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: no date found", text)
	}
	return r.Time, nil
}

func init() {
	replayCmd.Flags().String("from", "", "Start after this revision (default: the beginning)")
	replayCmd.Flags().String("to", "", "Stop at this revision (default: the current one)")
	replayCmd.Flags().String("since", "", `Skip revisions older than this ("2026-01-31", "two weeks ago")`)
	replayCmd.Flags().String("checkout", "", "Scratch workspace directory (default: a temporary directory)")
	replayCmd.Flags().Bool("keep", false, "Keep the scratch workspace afterwards")
	rootCmd.AddCommand(replayCmd)
}
