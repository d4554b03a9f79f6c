// Package depindex inverts the reference edges of the live model so the
// synchronizer can ask which units reference the units of an artifact.
//
// The index is rebuilt from scratch every cycle; it is never patched.
package depindex

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/model"
)

// Index maps a unit to the units that reference it.
type Index struct {
	model     *model.Model
	referrers map[model.UnitID]map[model.UnitID]struct{}
	edges     int
}

// Build scans every unit of m. The scan is split into chunks processed by up
// to workers goroutines; each chunk builds a local map that is merged under a
// mutex.
func Build(ctx context.Context, m *model.Model, workers int) (*Index, error) {
	if workers <= 0 {
		workers = 1
	}
	units := m.Units()
	ix := &Index{model: m, referrers: make(map[model.UnitID]map[model.UnitID]struct{})}

	chunk := (len(units) + workers - 1) / workers
	if chunk == 0 {
		return ix, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(units); start += chunk {
		end := start + chunk
		if end > len(units) {
			end = len(units)
		}
		part := units[start:end]
		g.Go(func() error {
			local := make(map[model.UnitID][]model.UnitID)
			for i, u := range part {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				for _, ref := range u.Refs {
					if ref == u.ID {
						continue
					}
					local[ref] = append(local[ref], u.ID)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			for target, from := range local {
				set := ix.referrers[target]
				if set == nil {
					set = make(map[model.UnitID]struct{})
					ix.referrers[target] = set
				}
				for _, id := range from {
					if _, ok := set[id]; !ok {
						set[id] = struct{}{}
						ix.edges++
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ix, nil
}

// Edges returns the number of distinct reference edges in the index.
func (ix *Index) Edges() int { return ix.edges }

// Referrers returns the ids of the units referencing id, sorted.
func (ix *Index) Referrers(id model.UnitID) []model.UnitID {
	set := ix.referrers[id]
	out := make([]model.UnitID, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReferencedBy returns the units that reference any unit declared in a,
// excluding units declared in a itself.
func (ix *Index) ReferencedBy(a artifact.ID) []model.Unit {
	seen := make(map[model.UnitID]struct{})
	var out []model.Unit
	for _, target := range ix.model.UnitsOf(a) {
		for r := range ix.referrers[target.ID] {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			u, ok := ix.model.Unit(r)
			if !ok || u.Artifact == a {
				continue
			}
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReferencingArtifacts returns the artifacts, outside of arts, that own a
// unit with a source position referencing a unit declared in arts. Only one
// hop is followed.
func (ix *Index) ReferencingArtifacts(arts artifact.Set) artifact.Set {
	out := artifact.NewSet()
	for a := range arts {
		for _, u := range ix.ReferencedBy(a) {
			if !u.HasPosition() || arts.Has(u.Artifact) {
				continue
			}
			out.Add(u.Artifact)
		}
	}
	return out
}
