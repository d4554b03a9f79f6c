package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/builder"
	"github.com/steveyegge/modelsync/internal/change"
	"github.com/steveyegge/modelsync/internal/depindex"
	"github.com/steveyegge/modelsync/internal/model"
	"github.com/steveyegge/modelsync/internal/outputs"
)

// Config holds synchronizer settings.
type Config struct {
	// BaseDir resolves relative paths in change records. Empty means the
	// working directory.
	BaseDir string
	// Incremental false rebuilds every live artifact on each cycle.
	Incremental bool
	// Include filters the artifacts the synchronizer tracks. Nil tracks all.
	Include func(artifact.ID) bool
	// Exists reports whether an artifact or marker is on disk. Nil uses
	// the file system.
	Exists  func(artifact.ID) bool
	Layout  outputs.Layout
	Workers int
	Logger  *log.Logger
}

// DefaultConfig returns incremental settings with four workers.
func DefaultConfig() *Config {
	return &Config{
		Incremental: true,
		Layout:      outputs.Layout{Suffix: outputs.DefaultSuffix},
		Workers:     4,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// synchronizer implements Synchronizer.
type synchronizer struct {
	mu sync.RWMutex

	model    *model.Model
	pending  artifact.Set
	leaked   map[outputs.ID]struct{}
	revision string
	cycles   int

	builder builder.Builder
	store   outputs.Store
	tracker *outputs.Tracker
	canon   *artifact.Canonicalizer
	config  *Config
	logger  *log.Logger
}

// New creates a synchronizer with an empty model.
func New(b builder.Builder, store outputs.Store, config *Config) (Synchronizer, error) {
	if b == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("output store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.Exists == nil {
		config.Exists = model.FileExists
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	canon, err := artifact.NewCanonicalizer(config.BaseDir, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create canonicalizer: %w", err)
	}

	tracker := outputs.NewTracker(store, &outputs.TrackerConfig{
		Layout:  config.Layout,
		Workers: config.Workers,
		Logger:  config.Logger,
	})

	return &synchronizer{
		model:   model.New(),
		pending: artifact.NewSet(),
		leaked:  make(map[outputs.ID]struct{}),
		builder: b,
		store:   store,
		tracker: tracker,
		canon:   canon,
		config:  config,
		logger:  config.Logger,
	}, nil
}

// cycleState is what a cycle needs to restore on rollback.
type cycleState struct {
	model   *model.Model
	pending artifact.Set
}

func (s *synchronizer) Update(ctx context.Context, revision string, changes change.Set) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.canon.Reset()

	resolved, err := change.Resolve(changes, s.canon, change.Options{
		Include: s.config.Include,
		Exists:  s.config.Exists,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeRecord, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	saved := cycleState{model: s.model.Clone(), pending: s.pending.Clone()}
	report := &Report{Revision: revision, Cycle: s.cycles + 1}
	gone := resolved.Gone()

	s.retryLeaked(ctx)

	pending, err := s.carryPending(ctx, gone)
	if err != nil {
		return nil, s.rollback(saved, nil, cancelled(err))
	}

	ix, err := depindex.Build(ctx, s.model, s.config.Workers)
	if err != nil {
		return nil, s.rollback(saved, nil, cancelled(err))
	}
	rebuild := s.computeRebuildSet(resolved, pending, ix)

	// Units of gone artifacts are removed even when nothing references
	// them; the rebuild set is purged before it is re-parsed.
	purge := gone.Clone()
	purge.Union(rebuild)
	removed := s.purge(ctx, purge)
	pruned := s.model.Prune(s.config.Exists)

	merged, err := s.rebuild(ctx, revision, rebuild)
	if err != nil {
		return nil, s.rollback(saved, purge, err)
	}
	pruned = append(pruned, s.model.Prune(s.config.Exists)...)
	s.forgetLeaked(merged.built)

	stale, err := s.tracker.StaleArtifacts(ctx, s.model)
	if err != nil {
		return nil, s.rollback(saved, purge, cancelled(err))
	}
	if err := ctx.Err(); err != nil {
		return nil, s.rollback(saved, purge, cancelled(err))
	}

	next := merged.failures.Clone()
	next.Union(stale)
	s.pending = next
	s.revision = revision
	s.cycles++

	report.RebuildSet = merged.built.Sorted()
	report.Removed = gone.Sorted()
	report.Vanished = merged.vanished.Sorted()
	report.Failed = merged.failures.Sorted()
	report.Pending = next.Sorted()
	report.UnitsRemoved = len(removed)
	report.UnitsAdded = merged.added
	report.Units = s.model.Len()
	report.PrunedNamespaces = s.stillPruned(pruned)
	report.LeakedOutputs = len(s.leaked)
	report.Diagnostics = merged.diagnostics
	report.Duration = time.Since(start)

	s.logger.Printf("Cycle %d complete: %s", report.Cycle, report.Summary())
	for _, d := range report.Diagnostics {
		s.logger.Printf("  %s", d)
	}
	return report, nil
}

// rollback restores the model saved before the cycle. Outputs of purged
// artifacts are already gone, so those artifacts stay pending if they still
// own units in the restored model.
func (s *synchronizer) rollback(saved cycleState, purged artifact.Set, cause error) error {
	s.model = saved.model
	s.pending = saved.pending
	for a := range purged {
		if s.model.HasArtifact(a) {
			s.pending.Add(a)
		}
	}
	s.logger.Printf("WARNING: cycle rolled back, %d units restored: %v", s.model.Len(), cause)
	return cause
}

// stillPruned drops namespaces that were pruned and then recreated by the
// merge.
func (s *synchronizer) stillPruned(paths []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if _, ok := s.model.Namespace(p); !ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *synchronizer) AllUnits() []model.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.Units()
}

func (s *synchronizer) UnitsInNamespace(path string) []model.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.UnitsInNamespace(path)
}

func (s *synchronizer) Pending() []artifact.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.Sorted()
}

func (s *synchronizer) Revision() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *synchronizer) Snapshot() *model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.Clone()
}

func (s *synchronizer) Known(path string) bool {
	id, err := s.canon.Canonical(path)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.HasArtifact(id) || s.pending.Has(id)
}

func (s *synchronizer) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Revision:   s.revision,
		Cycles:     s.cycles,
		Units:      s.model.Len(),
		Artifacts:  len(s.model.Artifacts()),
		Namespaces: len(s.model.Namespaces()),
		Pending:    len(s.pending),
		Leaked:     len(s.leaked),
	}
}
