package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/modelsync/internal/builder"
	"github.com/steveyegge/modelsync/internal/change"
	"github.com/steveyegge/modelsync/internal/outputs"
	"github.com/steveyegge/modelsync/internal/sync"
)

// workload is a synthetic manifest tree under dir.
type workload struct {
	dir    string
	config Config
	gen    []int // rewrite count per artifact
}

func newWorkload(dir string, config Config) *workload {
	return &workload{dir: dir, config: config, gen: make([]int, config.Artifacts)}
}

// path returns the relative path of artifact i. Artifacts are spread over
// ten directories so the namespace tree has some depth.
func (w *workload) path(i int) string {
	return filepath.Join(fmt.Sprintf("g%d", i%10), fmt.Sprintf("a%04d.unit.json", i))
}

func (w *workload) namespace(i int) string {
	return fmt.Sprintf("bench.g%d", i%10)
}

func unitName(i, j int) string {
	return fmt.Sprintf("A%04dU%d", i, j)
}

// manifest describes artifact i. Every unit of artifact i references the
// first unit of one of the next RefsPerArtifact artifacts, wrapping around.
// The generation shifts line numbers so that a rewrite changes content.
func (w *workload) manifest(i int) *builder.Manifest {
	m := &builder.Manifest{Namespace: w.namespace(i)}
	n := w.config.Artifacts
	for j := 0; j < w.config.UnitsPerArtifact; j++ {
		d := builder.Decl{Name: unitName(i, j), Line: w.gen[i] + j + 1}
		if r := w.config.RefsPerArtifact; r > 0 {
			target := (i + 1 + j%r) % n
			d.Refs = []string{w.namespace(target) + "." + unitName(target, 0)}
		}
		m.Units = append(m.Units, d)
	}
	return m
}

func (w *workload) write(i int) error {
	data, err := json.MarshalIndent(w.manifest(i), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	full := filepath.Join(w.dir, w.path(i))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// generate writes every manifest and returns the change set that adds them.
func (w *workload) generate() (change.Set, error) {
	set := make(change.Set, 0, w.config.Artifacts)
	for i := 0; i < w.config.Artifacts; i++ {
		if err := w.write(i); err != nil {
			return nil, err
		}
		set = append(set, change.Add(w.path(i)))
	}
	return set, nil
}

// edit rewrites the given artifacts and returns the matching change set.
func (w *workload) edit(indices []int) (change.Set, error) {
	seen := make(map[int]bool, len(indices))
	var set change.Set
	for _, i := range indices {
		if seen[i] {
			continue
		}
		seen[i] = true
		w.gen[i]++
		if err := w.write(i); err != nil {
			return nil, err
		}
		set = append(set, change.Modify(w.path(i)))
	}
	return set, nil
}

// Run executes one benchmark in config.Mode.
func Run(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	dir := config.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "msync-bench-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	store := outputs.NewMemStore()
	bcfg := builder.DefaultConfig()
	bcfg.Outputs = store
	bcfg.Logger = logger
	if config.Workers > 0 {
		bcfg.Workers = config.Workers
	}
	b := builder.NewManifests(bcfg)

	scfg := sync.DefaultConfig()
	scfg.BaseDir = dir
	scfg.Include = b.Accepts
	scfg.Incremental = config.Mode == ModeIncremental
	scfg.Logger = logger
	s, err := sync.New(b, store, scfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create synchronizer: %w", err)
	}

	result := &Result{Config: config, Mode: config.Mode}
	start := time.Now()
	before := GetMemoryStats()

	w := newWorkload(dir, config)
	initial, err := w.generate()
	if err != nil {
		return nil, err
	}
	t0 := time.Now()
	report, err := s.Update(ctx, "initial", initial)
	if err != nil {
		return nil, fmt.Errorf("initial build failed: %w", err)
	}
	result.Initial = time.Since(t0)
	if !report.Clean() {
		result.ErrorCount++
	}

	rng := rand.New(rand.NewSource(config.Seed))
	durations := make([]time.Duration, 0, config.Cycles)
	sizes := make([]int, 0, config.Cycles)
	for c := 0; c < config.Cycles; c++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		picks := make([]int, config.EditsPerCycle)
		for k := range picks {
			picks[k] = rng.Intn(config.Artifacts)
		}
		changes, err := w.edit(picks)
		if err != nil {
			return nil, err
		}

		t := time.Now()
		report, err := s.Update(ctx, fmt.Sprintf("cycle-%d", c+1), changes)
		if err != nil {
			logger.Printf("WARNING: cycle %d failed: %v", c+1, err)
			result.ErrorCount++
			continue
		}
		durations = append(durations, time.Since(t))
		sizes = append(sizes, len(report.RebuildSet))
		if !report.Clean() {
			result.ErrorCount++
		}
	}

	result.Latency = ComputeStats(durations)
	result.Rebuilds = ComputeRebuilds(sizes)
	result.Resources = CompareMemoryStats(before, GetMemoryStats())
	result.Units = s.Stats().Units
	result.TotalDuration = time.Since(start)
	result.Success = result.ErrorCount == 0 &&
		result.Units == config.Artifacts*config.UnitsPerArtifact
	return result, nil
}
