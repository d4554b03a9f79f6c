package outputs

import (
	"context"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/model"
)

// DefaultSuffix is appended to every output name.
const DefaultSuffix = ".out"

// Layout maps units to output IDs: the namespace becomes a directory and the
// enclosing-unit chain is joined with '$'.
type Layout struct {
	Suffix string
}

// OutputID returns the ID of the output named binaryName in namespace.
func (l Layout) OutputID(namespace, binaryName string) ID {
	suffix := l.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	dir := strings.ReplaceAll(namespace, ".", "/")
	return ID(path.Join(dir, binaryName+suffix))
}

// BinaryName joins the names of u and its enclosing units with '$', outermost
// first. Namespace segments are not part of the name.
func BinaryName(m *model.Model, u model.Unit) string {
	names := []string{u.Name}
	seen := map[model.UnitID]bool{u.ID: true}
	for p := u.Parent; p != ""; {
		if seen[p] {
			break
		}
		seen[p] = true
		parent, ok := m.Unit(p)
		if !ok {
			// Parent not in the model: fall back to the qualified id.
			names = append(names, strings.TrimPrefix(string(p), namespacePrefix(u.Namespace)))
			break
		}
		names = append(names, parent.Name)
		p = parent.Parent
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "$")
}

func namespacePrefix(ns string) string {
	if ns == "" {
		return ""
	}
	return ns + "."
}

// TrackerConfig holds tracker settings.
type TrackerConfig struct {
	Layout  Layout
	Workers int
	Logger  *log.Logger
}

// DefaultTrackerConfig returns the default tracker settings.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		Layout:  Layout{Suffix: DefaultSuffix},
		Workers: 4,
		Logger:  log.New(os.Stderr, "[outputs] ", log.LstdFlags),
	}
}

// Tracker answers which outputs a unit should have and whether they exist.
type Tracker struct {
	store  Store
	layout Layout
	config *TrackerConfig
}

// NewTracker returns a tracker over store.
func NewTracker(store Store, config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[outputs] ", log.LstdFlags)
	}
	return &Tracker{store: store, layout: config.Layout, config: config}
}

// Layout returns the naming layout used by the tracker.
func (t *Tracker) Layout() Layout { return t.layout }

// ExpectedOutputs returns the outputs u should produce: its own and that of
// every unit nested in it, transitively, in sorted order.
func (t *Tracker) ExpectedOutputs(m *model.Model, u model.Unit) []ID {
	var out []ID
	seen := make(map[model.UnitID]bool)
	var walk func(cur model.Unit, name string)
	walk = func(cur model.Unit, name string) {
		if seen[cur.ID] {
			return
		}
		seen[cur.ID] = true
		out = append(out, t.layout.OutputID(cur.Namespace, name))
		for _, kid := range m.Children(cur.ID) {
			walk(kid, name+"$"+kid.Name)
		}
	}
	walk(u, BinaryName(m, u))
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Missing returns the expected outputs of u absent from the store. Store
// errors other than cancellation count the output as missing.
func (t *Tracker) Missing(ctx context.Context, m *model.Model, u model.Unit) ([]ID, error) {
	var missing []ID
	for _, id := range t.ExpectedOutputs(m, u) {
		ok, err := t.store.Exists(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.config.Logger.Printf("WARNING: failed to check output %s: %v", id, err)
			ok = false
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// IsStale reports whether any expected output of u is missing.
func (t *Tracker) IsStale(ctx context.Context, m *model.Model, u model.Unit) (bool, error) {
	missing, err := t.Missing(ctx, m, u)
	if err != nil {
		return false, err
	}
	return len(missing) > 0, nil
}

// StaleArtifacts returns every artifact owning a top-level unit with a
// missing output. Nested units are covered through their top-level unit.
// Units are checked in parallel over a read-only model.
func (t *Tracker) StaleArtifacts(ctx context.Context, m *model.Model) (artifact.Set, error) {
	stale := artifact.NewSet()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.config.Workers)
	for _, u := range m.Units() {
		if !u.TopLevel() {
			continue
		}
		u := u
		g.Go(func() error {
			isStale, err := t.IsStale(gctx, m, u)
			if err != nil {
				return err
			}
			if isStale {
				mu.Lock()
				stale.Add(u.Artifact)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stale, nil
}

// StaleAmong is StaleArtifacts restricted to the artifacts in candidates.
func (t *Tracker) StaleAmong(ctx context.Context, m *model.Model, candidates artifact.Set) (artifact.Set, error) {
	stale := artifact.NewSet()
	for _, a := range candidates.Sorted() {
		for _, u := range m.UnitsOf(a) {
			if !u.TopLevel() {
				continue
			}
			isStale, err := t.IsStale(ctx, m, u)
			if err != nil {
				return nil, err
			}
			if isStale {
				stale.Add(a)
				break
			}
		}
	}
	return stale, nil
}
