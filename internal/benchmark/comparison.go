package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ComparisonResult contains the results of running both modes on the same
// workload.
type ComparisonResult struct {
	Incremental Result
	Full        Result

	// Improvement ratios (positive = incremental is better)
	LatencyImprovement map[string]float64 // min, p50, mean, p95, p99, max
	RebuildReduction   float64            // fewer artifacts parsed
	OverallWinner      string             // "incremental", "full" or "tie"
}

// Compare runs the workload in incremental and full mode and compares the
// results. Both runs use the same seed and therefore the same edits.
func Compare(ctx context.Context, config Config) (*ComparisonResult, error) {
	incConfig := config
	incConfig.Mode = ModeIncremental
	incResult, err := Run(ctx, incConfig)
	if err != nil {
		return nil, fmt.Errorf("incremental benchmark failed: %w", err)
	}

	fullConfig := config
	fullConfig.Mode = ModeFull
	fullResult, err := Run(ctx, fullConfig)
	if err != nil {
		return nil, fmt.Errorf("full benchmark failed: %w", err)
	}

	result := &ComparisonResult{
		Incremental:        *incResult,
		Full:               *fullResult,
		LatencyImprovement: make(map[string]float64),
	}

	inc, full := incResult.Latency, fullResult.Latency
	result.LatencyImprovement["min"] = calculateImprovement(inc.Min, full.Min)
	result.LatencyImprovement["p50"] = calculateImprovement(inc.P50, full.P50)
	result.LatencyImprovement["mean"] = calculateImprovement(inc.Mean, full.Mean)
	result.LatencyImprovement["p95"] = calculateImprovement(inc.P95, full.P95)
	result.LatencyImprovement["p99"] = calculateImprovement(inc.P99, full.P99)
	result.LatencyImprovement["max"] = calculateImprovement(inc.Max, full.Max)

	if fullResult.Rebuilds.Total > 0 {
		result.RebuildReduction = float64(fullResult.Rebuilds.Total-incResult.Rebuilds.Total) /
			float64(fullResult.Rebuilds.Total) * 100
	}

	var wins, losses int
	for _, improvement := range result.LatencyImprovement {
		if improvement > 0 {
			wins++
		} else if improvement < 0 {
			losses++
		}
	}
	if result.RebuildReduction > 0 {
		wins++
	} else if result.RebuildReduction < 0 {
		losses++
	}

	switch {
	case wins > losses:
		result.OverallWinner = ModeIncremental
	case losses > wins:
		result.OverallWinner = ModeFull
	default:
		result.OverallWinner = "tie"
	}
	return result, nil
}

// calculateImprovement calculates percentage improvement.
// Positive = incremental is faster.
func calculateImprovement(inc, full time.Duration) float64 {
	if full == 0 {
		return 0
	}
	return float64(full-inc) / float64(full) * 100
}

// PrintComparison writes a formatted comparison report to w.
func PrintComparison(w io.Writer, result *ComparisonResult) {
	separator := strings.Repeat("=", 72)
	fmt.Fprintf(w, "\n%s\n", separator)
	fmt.Fprintf(w, "BENCHMARK COMPARISON: incremental vs full rebuild\n")
	fmt.Fprintf(w, "%s\n\n", separator)

	c := result.Incremental.Config
	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Artifacts:          %d\n", c.Artifacts)
	fmt.Fprintf(w, "  Units per Artifact: %d\n", c.UnitsPerArtifact)
	fmt.Fprintf(w, "  Refs per Artifact:  %d\n", c.RefsPerArtifact)
	fmt.Fprintf(w, "  Cycles:             %d x %d edits\n\n", c.Cycles, c.EditsPerCycle)

	fmt.Fprintf(w, "LATENCY COMPARISON:\n")
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %-15s\n", "Metric", "Incremental", "Full", "Improvement")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 60))

	inc, full := result.Incremental.Latency, result.Full.Latency
	printLatencyRow(w, "Min", inc.Min, full.Min, result.LatencyImprovement["min"])
	printLatencyRow(w, "P50", inc.P50, full.P50, result.LatencyImprovement["p50"])
	printLatencyRow(w, "Mean", inc.Mean, full.Mean, result.LatencyImprovement["mean"])
	printLatencyRow(w, "P95", inc.P95, full.P95, result.LatencyImprovement["p95"])
	printLatencyRow(w, "P99", inc.P99, full.P99, result.LatencyImprovement["p99"])
	printLatencyRow(w, "Max", inc.Max, full.Max, result.LatencyImprovement["max"])
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "REBUILDS:\n")
	fmt.Fprintf(w, "  Incremental: %d artifacts (%.2f per cycle)\n", result.Incremental.Rebuilds.Total, result.Incremental.Rebuilds.Mean)
	fmt.Fprintf(w, "  Full:        %d artifacts (%.2f per cycle)\n", result.Full.Rebuilds.Total, result.Full.Rebuilds.Mean)
	fmt.Fprintf(w, "  Reduction:   %s%.2f%%\n\n", formatSign(result.RebuildReduction), result.RebuildReduction)

	fmt.Fprintf(w, "MEMORY:\n")
	fmt.Fprintf(w, "  Incremental Delta: %s\n", FormatBytes(result.Incremental.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "  Full Delta:        %s\n\n", FormatBytes(result.Full.Resources.MemoryDeltaBytes))

	fmt.Fprintf(w, "SUMMARY:\n")
	fmt.Fprintf(w, "  Errors:         %d incremental, %d full\n", result.Incremental.ErrorCount, result.Full.ErrorCount)
	fmt.Fprintf(w, "  Overall Winner: %s\n", strings.ToUpper(result.OverallWinner))
	fmt.Fprintf(w, "%s\n\n", separator)
}

// printLatencyRow prints a single row in the latency comparison table.
func printLatencyRow(w io.Writer, metric string, inc, full time.Duration, improvement float64) {
	improvementStr := fmt.Sprintf("%s%.1f%%", formatSign(improvement), improvement)
	if improvement > 0 {
		improvementStr += " ✓"
	}
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %-15s\n",
		metric,
		FormatDuration(inc),
		FormatDuration(full),
		improvementStr)
}

// formatSign returns a + sign for positive values.
func formatSign(value float64) string {
	if value > 0 {
		return "+"
	}
	return ""
}

// PrintComparisonJSON writes the comparison as indented JSON.
func PrintComparisonJSON(w io.Writer, result *ComparisonResult) error {
	output := map[string]interface{}{
		"incremental": &result.Incremental,
		"full":        &result.Full,
		"improvement": map[string]interface{}{
			"latency_pct": result.LatencyImprovement,
			"rebuild_pct": result.RebuildReduction,
		},
		"winner": result.OverallWinner,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return fmt.Errorf("failed to encode comparison: %w", err)
	}
	return nil
}
