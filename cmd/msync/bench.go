package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/modelsync/internal/benchmark"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare incremental and full rebuild cycles on a synthetic tree",
	Long: `Bench generates a synthetic manifest tree, builds it once and then applies
a series of edit cycles, first with incremental invalidation and then with
a full rebuild on every cycle. It reports cycle latency, rebuild set sizes
and memory use for both modes.

Example usage:
  msync bench
  msync bench --artifacts 1000 --cycles 100 --edits 5 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		config := benchmark.DefaultConfig()
		config.Artifacts, _ = flags.GetInt("artifacts")
		config.UnitsPerArtifact, _ = flags.GetInt("units")
		config.RefsPerArtifact, _ = flags.GetInt("refs")
		config.Cycles, _ = flags.GetInt("cycles")
		config.EditsPerCycle, _ = flags.GetInt("edits")
		config.Seed, _ = flags.GetInt64("seed")
		config.Workers = cfg.Workers
		if err := config.Validate(); err != nil {
			return err
		}

		result, err := benchmark.Compare(cmd.Context(), config)
		if err != nil {
			return err
		}
		if asJSON, _ := flags.GetBool("json"); asJSON {
			return benchmark.PrintComparisonJSON(cmd.OutOrStdout(), result)
		}
		benchmark.PrintComparison(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	defaults := benchmark.DefaultConfig()
	benchCmd.Flags().Int("artifacts", defaults.Artifacts, "Number of manifests in the synthetic tree")
	benchCmd.Flags().Int("units", defaults.UnitsPerArtifact, "Units declared per manifest")
	benchCmd.Flags().Int("refs", defaults.RefsPerArtifact, "Neighboring manifests referenced by each manifest")
	benchCmd.Flags().Int("cycles", defaults.Cycles, "Edit cycles after the initial build")
	benchCmd.Flags().Int("edits", defaults.EditsPerCycle, "Manifests rewritten per cycle")
	benchCmd.Flags().Int64("seed", defaults.Seed, "Seed for edit selection")
	benchCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(benchCmd)
}
