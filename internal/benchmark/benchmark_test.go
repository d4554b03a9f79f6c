package benchmark

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func smallConfig() Config {
	config := DefaultConfig()
	config.Artifacts = 30
	config.UnitsPerArtifact = 3
	config.RefsPerArtifact = 2
	config.Cycles = 8
	config.EditsPerCycle = 2
	config.Workers = 2
	return config
}

func TestRunIncremental(t *testing.T) {
	config := smallConfig()
	config.Dir = t.TempDir()

	result, err := Run(context.Background(), config)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("run not successful: %d errors, %d units", result.ErrorCount, result.Units)
	}
	if result.Units != 90 {
		t.Errorf("Units = %d, want 90", result.Units)
	}
	if len(result.Latency.Durations) != config.Cycles {
		t.Errorf("recorded %d cycles, want %d", len(result.Latency.Durations), config.Cycles)
	}
	// An edit rebuilds the artifact and at most RefsPerArtifact referencers.
	limit := config.EditsPerCycle * (1 + config.RefsPerArtifact)
	if result.Rebuilds.Max > limit {
		t.Errorf("largest rebuild set = %d, want <= %d", result.Rebuilds.Max, limit)
	}
	if result.Rebuilds.Max == 0 {
		t.Error("no artifacts rebuilt")
	}
}

func TestRunFullRebuildsEverything(t *testing.T) {
	config := smallConfig()
	config.Mode = ModeFull

	result, err := Run(context.Background(), config)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Rebuilds.Total != config.Artifacts*config.Cycles {
		t.Errorf("Rebuilds.Total = %d, want %d", result.Rebuilds.Total, config.Artifacts*config.Cycles)
	}
}

func TestCompare(t *testing.T) {
	result, err := Compare(context.Background(), smallConfig())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if result.Incremental.Units != result.Full.Units {
		t.Errorf("modes disagree on units: %d vs %d", result.Incremental.Units, result.Full.Units)
	}
	if result.RebuildReduction <= 0 {
		t.Errorf("RebuildReduction = %.2f, want positive", result.RebuildReduction)
	}

	var out bytes.Buffer
	PrintComparison(&out, result)
	if !strings.Contains(out.String(), "incremental vs full rebuild") {
		t.Errorf("comparison report missing header:\n%s", out.String())
	}

	out.Reset()
	if err := PrintComparisonJSON(&out, result); err != nil {
		t.Fatalf("PrintComparisonJSON failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["winner"] != result.OverallWinner {
		t.Errorf("winner = %v, want %s", decoded["winner"], result.OverallWinner)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, smallConfig()); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no artifacts", func(c *Config) { c.Artifacts = 0 }},
		{"no units", func(c *Config) { c.UnitsPerArtifact = 0 }},
		{"too many refs", func(c *Config) { c.RefsPerArtifact = c.Artifacts }},
		{"negative cycles", func(c *Config) { c.Cycles = -1 }},
		{"no edits", func(c *Config) { c.EditsPerCycle = 0 }},
		{"bad mode", func(c *Config) { c.Mode = "turbo" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := smallConfig()
			tt.modify(&config)
			if err := config.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig invalid: %v", err)
	}
}

func TestComputeStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := ComputeStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P95 != 96*time.Millisecond {
		t.Errorf("P95 = %v, want 96ms", stats.P95)
	}
	if durations[0] != 100*time.Millisecond {
		t.Error("ComputeStats reordered its input")
	}

	if empty := ComputeStats(nil); empty.Max != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestComputeRebuilds(t *testing.T) {
	m := ComputeRebuilds([]int{2, 6, 4})
	if m.Total != 12 || m.Max != 6 || m.Mean != 4 {
		t.Errorf("ComputeRebuilds = %+v", m)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{FormatBytes(512), "512 B"},
		{FormatBytes(1536), "1.5 KB"},
		{FormatBytes(3 << 20), "3.0 MB"},
		{FormatDuration(500 * time.Nanosecond), "500ns"},
		{FormatDuration(1500 * time.Nanosecond), "1.50µs"},
		{FormatDuration(2500 * time.Microsecond), "2.50ms"},
		{FormatDuration(3 * time.Second), "3.00s"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPrintResult(t *testing.T) {
	result, err := Run(context.Background(), smallConfig())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var out bytes.Buffer
	PrintResult(&out, result)
	for _, want := range []string{"incremental mode", "Rebuilds:", "Success:           true"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("report missing %q:\n%s", want, out.String())
		}
	}
}
