package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/modelsync/internal/dashboard"
	"github.com/steveyegge/modelsync/internal/daemon"
	"github.com/steveyegge/modelsync/internal/sync"
	"github.com/steveyegge/modelsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the source root and resynchronize on every change",
	Long: `Watch builds the model once, then watches the source tree and runs an
update cycle for each batch of changed manifests.

With --port the dashboard server is started as well. It broadcasts cycle
reports over WebSocket and serves the live model as JSON:
  ws://localhost:PORT/ws      cycle_complete, cycle_failed and stats messages
  http://localhost:PORT/units every unit (?namespace=NS for one namespace)
  http://localhost:PORT/stats model counters

Example usage:
  msync watch
  msync watch --port 8080 --debounce 500ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(cfg.SourceRoot)
		if err != nil {
			return fmt.Errorf("failed to resolve source root: %w", err)
		}
		e, err := openEnv(cfg, root)
		if err != nil {
			return err
		}
		defer e.Close()

		publishers := daemon.Publishers{&console{w: cmd.OutOrStdout()}}

		if cfg.Dashboard.Port > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Source: e.sync,
				Logger: e.sink.Logger("dashboard"),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			publishers = append(publishers, dashboard.NewHandler(server, e.sink.Logger("dashboard")))
			fmt.Fprintf(cmd.OutOrStdout(), "Dashboard on http://localhost:%d (WebSocket /ws)\n", cfg.Dashboard.Port)
		}

		dcfg := daemon.DefaultConfig()
		dcfg.DebounceInterval = cfg.Watch.Debounce
		dcfg.Accept = e.accepts
		dcfg.Publisher = publishers
		dcfg.Logger = e.sink.Debug("daemon")
		d, err := daemon.NewWithConfig(e.sync, root, dcfg)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", root)
		if err := d.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\nStopped")
		return nil
	},
}

// console prints cycles to the terminal.
type console struct {
	w io.Writer
}

func (c *console) PublishReport(report *sync.Report) { ui.PrintReport(c.w, report) }

func (c *console) PublishError(revision string, err error) { ui.PrintError(c.w, revision, err) }

func init() {
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a changed file is submitted (default 200ms)")
	watchCmd.Flags().IntP("port", "p", 0, "Serve the dashboard on this port")
	for key, name := range map[string]string{"watch.debounce": "debounce", "dashboard.port": "port"} {
		if err := v.BindPFlag(key, watchCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("msync: bind %s: %v", name, err))
		}
	}
	rootCmd.AddCommand(watchCmd)
}

