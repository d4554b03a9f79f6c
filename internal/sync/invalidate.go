package sync

import (
	"context"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/change"
	"github.com/steveyegge/modelsync/internal/depindex"
	"github.com/steveyegge/modelsync/internal/model"
	"github.com/steveyegge/modelsync/internal/outputs"
)

// carryPending returns the pending artifacts of the last cycle that are
// still incomplete. Gone artifacts are dropped. An artifact without live
// units never produced anything and stays pending.
func (s *synchronizer) carryPending(ctx context.Context, gone artifact.Set) (artifact.Set, error) {
	pending := artifact.NewSet()
	withUnits := artifact.NewSet()
	for a := range s.pending {
		if gone.Has(a) {
			continue
		}
		if s.model.HasArtifact(a) {
			withUnits.Add(a)
			continue
		}
		pending.Add(a)
	}
	stale, err := s.tracker.StaleAmong(ctx, s.model, withUnits)
	if err != nil {
		return nil, err
	}
	pending.Union(stale)
	return pending, nil
}

// computeRebuildSet selects the artifacts to parse this cycle.
func (s *synchronizer) computeRebuildSet(r *change.Resolved, pending artifact.Set, ix *depindex.Index) artifact.Set {
	rebuild := r.Present()
	if !s.config.Incremental {
		for _, a := range s.model.Artifacts() {
			rebuild.Add(a)
		}
	}
	rebuild.Union(pending)

	// One hop: referencers of the rebuild set and of gone artifacts.
	gone := r.Gone()
	sources := rebuild.Clone()
	sources.Union(gone)
	rebuild.Union(ix.ReferencingArtifacts(sources))

	rebuild.Subtract(gone)
	return rebuild
}

// purge deletes the units of every target artifact and their outputs.
// Failed deletions are remembered and retried on the next cycle.
func (s *synchronizer) purge(ctx context.Context, targets artifact.Set) []model.Unit {
	var removed []model.Unit
	for _, a := range targets.Sorted() {
		var expected []outputs.ID
		for _, u := range s.model.UnitsOf(a) {
			if u.TopLevel() {
				expected = append(expected, s.tracker.ExpectedOutputs(s.model, u)...)
			}
		}
		removed = append(removed, s.model.RemoveArtifact(a)...)
		s.model.ClearMarker(a)

		for _, id := range expected {
			if err := s.store.Delete(ctx, id); err != nil {
				s.logger.Printf("WARNING: failed to delete output %s: %v", id, err)
				s.leaked[id] = struct{}{}
			}
		}
	}
	return removed
}

// retryLeaked deletes outputs whose deletion failed on an earlier cycle.
func (s *synchronizer) retryLeaked(ctx context.Context) {
	for id := range s.leaked {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Printf("WARNING: failed to delete output %s again: %v", id, err)
			continue
		}
		delete(s.leaked, id)
	}
}

// forgetLeaked stops retrying deletions of outputs that were rewritten by
// this cycle's build.
func (s *synchronizer) forgetLeaked(built artifact.Set) {
	if len(s.leaked) == 0 {
		return
	}
	for a := range built {
		for _, u := range s.model.UnitsOf(a) {
			if !u.TopLevel() {
				continue
			}
			for _, id := range s.tracker.ExpectedOutputs(s.model, u) {
				delete(s.leaked, id)
			}
		}
	}
}
