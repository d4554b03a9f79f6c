package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/modelsync/internal/daemon"
	"github.com/steveyegge/modelsync/internal/sync"
	"github.com/steveyegge/modelsync/internal/ui"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the model from every manifest under the source root",
	Long: `Build parses every manifest under the source root in one cycle and writes
a derived output per unit to the configured store.

The exit status is non-zero when any artifact failed or was left pending.

Example usage:
  msync build
  msync build -C ./src --store sqlite --db /tmp/units.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, report, err := buildTree(cmd.Context())
		if e != nil {
			defer e.Close()
		}
		if err != nil {
			return err
		}
		ui.PrintReport(cmd.OutOrStdout(), report)
		if !report.Clean() {
			return fmt.Errorf("%d artifacts failed, %d pending", len(report.Failed), len(report.Pending))
		}
		return nil
	},
}

// buildTree wires an env over the source root and runs one full cycle.
// The env is returned even on error so the caller can close it.
func buildTree(ctx context.Context) (*env, *sync.Report, error) {
	root, err := filepath.Abs(cfg.SourceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve source root: %w", err)
	}
	e, err := openEnv(cfg, root)
	if err != nil {
		return nil, nil, err
	}
	set, err := daemon.Scan(root, e.accepts)
	if err != nil {
		return e, nil, err
	}
	report, err := e.sync.Update(ctx, "build", set)
	if err != nil {
		return e, nil, fmt.Errorf("build failed: %w", err)
	}
	return e, report, nil
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
