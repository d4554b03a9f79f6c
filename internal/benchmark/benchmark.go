// Package benchmark measures update cycle latency of the synchronizer on a
// synthetic manifest tree.
//
// A run builds the tree once, then applies a number of edit cycles, each
// touching a few manifests. Incremental mode rebuilds only the affected
// artifacts; full mode rebuilds every live artifact on every cycle. Compare
// runs both modes on identical workloads.
package benchmark

import (
	"fmt"
	"io"
	"log"
	"runtime"
	"sort"
	"time"
)

// Modes accepted by Config.Mode.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Config defines the parameters for a benchmark run.
type Config struct {
	// Artifacts is the number of manifests in the synthetic tree
	Artifacts int

	// UnitsPerArtifact is how many top-level units each manifest declares
	UnitsPerArtifact int

	// RefsPerArtifact is how many neighbouring artifacts each manifest references
	RefsPerArtifact int

	// Cycles is the number of edit cycles after the initial build
	Cycles int

	// EditsPerCycle is how many manifests each cycle rewrites
	EditsPerCycle int

	// Workers bounds builder parallelism
	Workers int

	// Mode is ModeIncremental or ModeFull
	Mode string

	// Dir holds the tree; empty uses a temporary directory removed afterwards
	Dir string

	// Seed makes edit selection reproducible
	Seed int64

	Logger *log.Logger
}

// DefaultConfig returns a benchmark configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Artifacts:        200,
		UnitsPerArtifact: 5,
		RefsPerArtifact:  2,
		Cycles:           50,
		EditsPerCycle:    3,
		Workers:          4,
		Mode:             ModeIncremental,
		Seed:             1,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// Validate rejects configurations that cannot produce a workload.
func (c Config) Validate() error {
	switch {
	case c.Artifacts <= 0:
		return fmt.Errorf("artifacts must be positive, got %d", c.Artifacts)
	case c.UnitsPerArtifact <= 0:
		return fmt.Errorf("units per artifact must be positive, got %d", c.UnitsPerArtifact)
	case c.RefsPerArtifact < 0 || c.RefsPerArtifact >= c.Artifacts:
		return fmt.Errorf("refs per artifact must be in [0, %d), got %d", c.Artifacts, c.RefsPerArtifact)
	case c.Cycles < 0:
		return fmt.Errorf("cycles must not be negative, got %d", c.Cycles)
	case c.EditsPerCycle <= 0:
		return fmt.Errorf("edits per cycle must be positive, got %d", c.EditsPerCycle)
	case c.Mode != ModeIncremental && c.Mode != ModeFull:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

// Result captures all metrics from a benchmark run.
type Result struct {
	// Configuration used for this run
	Config Config `json:"-"`
	Mode   string `json:"mode"`

	// Initial is the duration of the first full build
	Initial time.Duration `json:"initial"`

	// Latency of the edit cycles
	Latency LatencyMetrics `json:"latency"`

	// Rebuild set sizes of the edit cycles
	Rebuilds RebuildMetrics `json:"rebuilds"`

	// Resource usage metrics
	Resources ResourceMetrics `json:"resources"`

	// Units is the size of the model after the last cycle
	Units int `json:"units"`

	TotalDuration time.Duration `json:"total_duration"`
	ErrorCount    int           `json:"errors"`
	Success       bool          `json:"success"`
}

// LatencyMetrics captures cycle latency statistics.
type LatencyMetrics struct {
	Min  time.Duration `json:"min"`
	P50  time.Duration `json:"p50"` // Median
	Mean time.Duration `json:"mean"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	Max  time.Duration `json:"max"`

	// Raw durations for analysis
	Durations []time.Duration `json:"-"`
}

// RebuildMetrics captures how many artifacts each cycle parsed.
type RebuildMetrics struct {
	Total int     `json:"total"`
	Mean  float64 `json:"mean"`
	Max   int     `json:"max"`
}

// ResourceMetrics captures memory usage.
type ResourceMetrics struct {
	MemoryBeforeBytes uint64 `json:"memory_before"`
	MemoryAfterBytes  uint64 `json:"memory_after"`
	MemoryPeakBytes   uint64 `json:"memory_peak"`
	MemoryDeltaBytes  uint64 `json:"memory_delta"`
}

// ComputeStats calculates statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))

	return LatencyMetrics{
		Min:       sorted[0],
		P50:       sorted[len(sorted)*50/100],
		Mean:      mean,
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Max:       sorted[len(sorted)-1],
		Durations: sorted,
	}
}

// ComputeRebuilds summarizes per-cycle rebuild set sizes.
func ComputeRebuilds(sizes []int) RebuildMetrics {
	var m RebuildMetrics
	for _, n := range sizes {
		m.Total += n
		if n > m.Max {
			m.Max = n
		}
	}
	if len(sizes) > 0 {
		m.Mean = float64(m.Total) / float64(len(sizes))
	}
	return m
}

// GetMemoryStats returns current memory usage statistics.
func GetMemoryStats() ResourceMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceMetrics{
		MemoryBeforeBytes: m.Alloc,
		MemoryAfterBytes:  m.Alloc,
		MemoryPeakBytes:   m.Sys,
	}
}

// CompareMemoryStats computes the delta between before and after memory stats.
// A shrinking heap yields a zero delta.
func CompareMemoryStats(before, after ResourceMetrics) ResourceMetrics {
	var delta uint64
	if after.MemoryAfterBytes > before.MemoryBeforeBytes {
		delta = after.MemoryAfterBytes - before.MemoryBeforeBytes
	}

	return ResourceMetrics{
		MemoryBeforeBytes: before.MemoryBeforeBytes,
		MemoryAfterBytes:  after.MemoryAfterBytes,
		MemoryPeakBytes:   after.MemoryPeakBytes,
		MemoryDeltaBytes:  delta,
	}
}

// FormatBytes formats bytes into a human-readable string.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration into a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// PrintResult writes a formatted benchmark result to w.
func PrintResult(w io.Writer, result *Result) {
	fmt.Fprintf(w, "\n=== Benchmark Results (%s mode) ===\n\n", result.Mode)

	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Artifacts:          %d\n", result.Config.Artifacts)
	fmt.Fprintf(w, "  Units per Artifact: %d\n", result.Config.UnitsPerArtifact)
	fmt.Fprintf(w, "  Refs per Artifact:  %d\n", result.Config.RefsPerArtifact)
	fmt.Fprintf(w, "  Cycles:             %d x %d edits\n", result.Config.Cycles, result.Config.EditsPerCycle)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Cycle Latency:\n")
	fmt.Fprintf(w, "  Initial:   %s\n", FormatDuration(result.Initial))
	fmt.Fprintf(w, "  Min:       %s\n", FormatDuration(result.Latency.Min))
	fmt.Fprintf(w, "  P50:       %s\n", FormatDuration(result.Latency.P50))
	fmt.Fprintf(w, "  Mean:      %s\n", FormatDuration(result.Latency.Mean))
	fmt.Fprintf(w, "  P95:       %s\n", FormatDuration(result.Latency.P95))
	fmt.Fprintf(w, "  P99:       %s\n", FormatDuration(result.Latency.P99))
	fmt.Fprintf(w, "  Max:       %s\n", FormatDuration(result.Latency.Max))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Rebuilds:\n")
	fmt.Fprintf(w, "  Total:             %d\n", result.Rebuilds.Total)
	fmt.Fprintf(w, "  Mean per Cycle:    %.2f\n", result.Rebuilds.Mean)
	fmt.Fprintf(w, "  Max per Cycle:     %d\n", result.Rebuilds.Max)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Resources:\n")
	fmt.Fprintf(w, "  Memory Before:     %s\n", FormatBytes(result.Resources.MemoryBeforeBytes))
	fmt.Fprintf(w, "  Memory After:      %s\n", FormatBytes(result.Resources.MemoryAfterBytes))
	fmt.Fprintf(w, "  Memory Peak:       %s\n", FormatBytes(result.Resources.MemoryPeakBytes))
	fmt.Fprintf(w, "  Memory Delta:      %s\n", FormatBytes(result.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Overall:\n")
	fmt.Fprintf(w, "  Units:             %d\n", result.Units)
	fmt.Fprintf(w, "  Total Duration:    %s\n", FormatDuration(result.TotalDuration))
	fmt.Fprintf(w, "  Errors:            %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Success:           %v\n", result.Success)
	fmt.Fprintf(w, "\n")
}
