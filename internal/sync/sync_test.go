package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	gosync "sync"
	"testing"
	"time"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/builder"
	"github.com/steveyegge/modelsync/internal/change"
	"github.com/steveyegge/modelsync/internal/model"
	"github.com/steveyegge/modelsync/internal/outputs"
)

// fakeBuilder returns scripted units per artifact and writes their outputs.
type fakeBuilder struct {
	mu          gosync.Mutex
	store       outputs.Writer
	layout      outputs.Layout
	decls       map[artifact.ID][]model.Unit
	markers     map[artifact.ID]string
	fail        map[artifact.ID]bool
	unavailable bool
	calls       [][]artifact.ID
	hook        func(ctx context.Context) error
}

func (f *fakeBuilder) Build(ctx context.Context, req *builder.Request) (*builder.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]artifact.ID(nil), req.Artifacts...))
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	if f.unavailable {
		return nil, builder.ErrUnavailable
	}

	res := builder.NewResult()
	for _, a := range req.Artifacts {
		if f.fail[a] {
			res.Fail(a, 1, "scripted failure")
			continue
		}
		if ns, ok := f.markers[a]; ok {
			res.Markers[ns] = a
			continue
		}
		names := make(map[model.UnitID]string)
		for _, u := range f.decls[a] {
			name := u.Name
			if p, ok := names[u.Parent]; ok {
				name = p + "$" + u.Name
			}
			names[u.ID] = name
			if err := f.store.Put(ctx, f.layout.OutputID(u.Namespace, name), []byte(u.ID)); err != nil {
				return nil, err
			}
			res.Units = append(res.Units, u)
		}
	}
	return res, nil
}

func (f *fakeBuilder) lastCall() []artifact.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type harness struct {
	t     *testing.T
	dir   string
	store *outputs.MemStore
	fb    *fakeBuilder
	s     Synchronizer
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := outputs.NewMemStore()
	fb := &fakeBuilder{
		store:   store,
		layout:  outputs.Layout{Suffix: outputs.DefaultSuffix},
		decls:   make(map[artifact.ID][]model.Unit),
		markers: make(map[artifact.ID]string),
		fail:    make(map[artifact.ID]bool),
	}
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	cfg.Logger = log.New(io.Discard, "", 0)
	if configure != nil {
		configure(cfg)
	}
	s, err := New(fb, store, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{t: t, dir: dir, store: store, fb: fb, s: s}
}

func (h *harness) id(name string) artifact.ID {
	return artifact.ID(filepath.Join(h.dir, name))
}

// declare writes the artifact file and scripts the units it declares.
func (h *harness) declare(name string, units ...model.Unit) {
	h.t.Helper()
	a := h.id(name)
	if err := os.WriteFile(string(a), []byte(name), 0644); err != nil {
		h.t.Fatal(err)
	}
	for i := range units {
		units[i].Artifact = a
	}
	h.fb.decls[a] = units
}

func (h *harness) marker(name, ns string) {
	h.t.Helper()
	a := h.id(name)
	if err := os.WriteFile(string(a), []byte(ns), 0644); err != nil {
		h.t.Fatal(err)
	}
	h.fb.markers[a] = ns
}

func (h *harness) delete(name string) {
	h.t.Helper()
	if err := os.Remove(string(h.id(name))); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) update(rev string, records ...change.Record) *Report {
	h.t.Helper()
	report, err := h.s.Update(context.Background(), rev, change.Set(records))
	if err != nil {
		h.t.Fatalf("Update(%s) failed: %v", rev, err)
	}
	return report
}

func top(ns, name string, refs ...model.UnitID) model.Unit {
	return model.Unit{ID: model.QualifiedName(ns, "", name), Name: name, Namespace: ns, Line: 1, Refs: refs}
}

func nested(parent model.Unit, name string) model.Unit {
	return model.Unit{
		ID:        model.QualifiedName(parent.Namespace, parent.ID, name),
		Name:      name,
		Namespace: parent.Namespace,
		Parent:    parent.ID,
		Line:      2,
	}
}

func contains(ids []artifact.ID, id artifact.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestNoOpCyclesAreIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("a.unit", top("pkg", "A", "pkg.B"))
	h.declare("b.unit", top("pkg", "B"))
	h.update("r1", change.Add("a.unit"), change.Add("b.unit"))
	first := h.s.AllUnits()

	for _, rev := range []string{"r2", "r3"} {
		report := h.update(rev)
		if len(report.RebuildSet) != 0 {
			t.Errorf("%s: rebuild set = %v, want empty", rev, report.RebuildSet)
		}
		if got := h.s.AllUnits(); !reflect.DeepEqual(got, first) {
			t.Errorf("%s: model changed on no-op cycle:\n got %v\nwant %v", rev, got, first)
		}
	}
	if h.s.Revision() != "r3" {
		t.Errorf("Revision() = %q, want r3", h.s.Revision())
	}
}

func TestRebuildNeverDuplicatesUnits(t *testing.T) {
	h := newHarness(t, nil)
	outer := top("pkg", "Outer")
	h.declare("a.unit", outer, nested(outer, "Inner"), nested(outer, "1"))
	h.update("r1", change.Add("a.unit"))

	for _, rev := range []string{"r2", "r3"} {
		report := h.update(rev, change.Modify("a.unit"))
		if !contains(report.RebuildSet, h.id("a.unit")) {
			t.Fatalf("%s: a.unit not rebuilt", rev)
		}
		if got := len(h.s.Snapshot().UnitsOf(h.id("a.unit"))); got != 3 {
			t.Errorf("%s: a.unit owns %d units, want 3", rev, got)
		}
	}
	for _, id := range []outputs.ID{"pkg/Outer.out", "pkg/Outer$Inner.out", "pkg/Outer$1.out"} {
		if _, ok := h.store.Get(id); !ok {
			t.Errorf("missing output %s", id)
		}
	}
}

func TestOneHopPropagation(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("a.unit", top("pkg", "A", "pkg.B"))
	h.declare("b.unit", top("pkg", "B"))
	h.declare("c.unit", top("pkg", "C", "pkg.A"))
	h.declare("d.unit", top("pkg", "D"))
	h.update("r1", change.Add("a.unit"), change.Add("b.unit"), change.Add("c.unit"), change.Add("d.unit"))

	report := h.update("r2", change.Modify("b.unit"))
	if !contains(report.RebuildSet, h.id("a.unit")) {
		t.Errorf("referencing artifact a.unit missing from rebuild set %v", report.RebuildSet)
	}
	if !contains(report.RebuildSet, h.id("b.unit")) {
		t.Errorf("modified artifact b.unit missing from rebuild set %v", report.RebuildSet)
	}
	if contains(report.RebuildSet, h.id("c.unit")) {
		t.Errorf("two hops away c.unit should not be rebuilt: %v", report.RebuildSet)
	}
	if contains(report.RebuildSet, h.id("d.unit")) {
		t.Errorf("unrelated d.unit should not be rebuilt: %v", report.RebuildSet)
	}
	if len(report.RebuildSet) != 2 {
		t.Errorf("rebuild set = %v, want exactly a.unit and b.unit", report.RebuildSet)
	}

	// Feeding the rebuilt referencer back in reaches the next hop.
	report = h.update("r3", change.Modify("a.unit"))
	if !contains(report.RebuildSet, h.id("c.unit")) {
		t.Errorf("second cycle did not reach c.unit: %v", report.RebuildSet)
	}
}

func TestSelfReferencesAndSyntheticReferrers(t *testing.T) {
	h := newHarness(t, nil)
	gen := top("pkg", "Gen", "pkg.B")
	gen.Synthetic = true
	h.declare("b.unit", top("pkg", "B", "pkg.B", "pkg.B2"), top("pkg", "B2", "pkg.B"))
	h.declare("gen.unit", gen)
	h.update("r1", change.Add("b.unit"), change.Add("gen.unit"))

	report := h.update("r2", change.Modify("b.unit"))
	if len(report.RebuildSet) != 1 || report.RebuildSet[0] != h.id("b.unit") {
		t.Errorf("rebuild set = %v, want only b.unit", report.RebuildSet)
	}
	if calls := h.fb.lastCall(); len(calls) != 1 {
		t.Errorf("builder received %v", calls)
	}
}

func TestRetryMonotonicity(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("x.unit", top("pkg", "X"))
	h.declare("y.unit", top("pkg", "Y"))
	h.fb.fail[h.id("x.unit")] = true
	x := h.id("x.unit")

	// Cycle 1: X fails and becomes pending.
	report := h.update("r1", change.Add("x.unit"), change.Add("y.unit"))
	if !contains(report.Pending, x) || !contains(report.Failed, x) {
		t.Fatalf("cycle 1: X not pending: %+v", report)
	}
	if len(report.Diagnostics) != 1 {
		t.Errorf("cycle 1: diagnostics = %v", report.Diagnostics)
	}

	// Cycle 2: unrelated change, X is retried and stays pending.
	report = h.update("r2", change.Modify("y.unit"))
	if !contains(report.RebuildSet, x) {
		t.Errorf("cycle 2: X missing from rebuild set %v", report.RebuildSet)
	}
	if !contains(report.Pending, x) {
		t.Errorf("cycle 2: X dropped from pending %v", report.Pending)
	}

	// Cycle 3: X is removed.
	h.delete("x.unit")
	report = h.update("r3", change.Remove("x.unit"))
	if contains(report.RebuildSet, x) || contains(report.Pending, x) {
		t.Errorf("cycle 3: removed X still scheduled: rebuild=%v pending=%v", report.RebuildSet, report.Pending)
	}

	// Cycle 4: X is gone for good.
	report = h.update("r4")
	if contains(report.RebuildSet, x) || contains(report.Pending, x) {
		t.Errorf("cycle 4: X reappeared: rebuild=%v pending=%v", report.RebuildSet, report.Pending)
	}
	if len(h.s.Pending()) != 0 {
		t.Errorf("Pending() = %v, want empty", h.s.Pending())
	}
}

func TestPendingClearsOnSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("x.unit", top("pkg", "X"))
	h.fb.fail[h.id("x.unit")] = true
	h.update("r1", change.Add("x.unit"))

	h.fb.fail[h.id("x.unit")] = false
	report := h.update("r2")
	if !contains(report.RebuildSet, h.id("x.unit")) {
		t.Fatalf("pending X not retried: %v", report.RebuildSet)
	}
	if len(report.Pending) != 0 {
		t.Errorf("pending after successful retry = %v", report.Pending)
	}
	if got := len(h.s.UnitsInNamespace("pkg")); got != 1 {
		t.Errorf("pkg holds %d units, want 1", got)
	}
}

func TestNamespacePruning(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("f.unit", top("pkg", "U"))
	h.declare("g.unit", top("other", "V"))
	h.update("r1", change.Add("f.unit"), change.Add("g.unit"))

	h.delete("f.unit")
	report := h.update("r2", change.Remove("f.unit"))
	if _, ok := h.s.Snapshot().Namespace("pkg"); ok {
		t.Error("empty namespace pkg survived the update")
	}
	if got := h.s.UnitsInNamespace("pkg"); got != nil {
		t.Errorf("UnitsInNamespace(pkg) = %v", got)
	}
	if len(report.PrunedNamespaces) != 1 || report.PrunedNamespaces[0] != "pkg" {
		t.Errorf("PrunedNamespaces = %v", report.PrunedNamespaces)
	}
	if report.UnitsRemoved != 1 {
		t.Errorf("UnitsRemoved = %d, want 1", report.UnitsRemoved)
	}
	if _, ok := h.store.Get("pkg/U.out"); ok {
		t.Error("output of removed unit still stored")
	}
}

func TestMarkerKeepsNamespace(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("f.unit", top("pkg", "U"))
	h.marker("pkg.unit", "pkg")
	h.update("r1", change.Add("f.unit"), change.Add("pkg.unit"))

	h.delete("f.unit")
	h.update("r2", change.Remove("f.unit"))
	ns, ok := h.s.Snapshot().Namespace("pkg")
	if !ok {
		t.Fatal("namespace with marker was pruned")
	}
	if ns.Marker() != h.id("pkg.unit") {
		t.Errorf("Marker() = %q", ns.Marker())
	}

	h.delete("pkg.unit")
	h.update("r3", change.Remove("pkg.unit"))
	if _, ok := h.s.Snapshot().Namespace("pkg"); ok {
		t.Error("namespace survived removal of its marker")
	}
}

func TestRollbackOnTotalFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("f.unit", top("pkg", "F"))
	h.declare("g.unit", top("pkg", "G"))
	h.update("r1", change.Add("f.unit"), change.Add("g.unit"))
	before := h.s.AllUnits()

	h.fb.unavailable = true
	h.delete("f.unit")
	_, err := h.s.Update(context.Background(), "r2", change.Set{change.Remove("f.unit"), change.Modify("g.unit")})
	if !errors.Is(err, ErrBuilderUnavailable) {
		t.Fatalf("expected ErrBuilderUnavailable, got %v", err)
	}
	var buildErr *BuildError
	if !errors.As(err, &buildErr) || buildErr.Revision != "r2" {
		t.Errorf("expected *BuildError for r2, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("builder unavailability should be retryable")
	}
	if got := h.s.AllUnits(); !reflect.DeepEqual(got, before) {
		t.Errorf("model changed by failed cycle:\n got %v\nwant %v", got, before)
	}
	if h.s.Revision() != "r1" {
		t.Errorf("Revision() = %q after rollback, want r1", h.s.Revision())
	}

	// Resubmitting once the builder is back applies the change.
	h.fb.unavailable = false
	h.update("r2", change.Remove("f.unit"), change.Modify("g.unit"))
	if _, ok := h.s.Snapshot().Unit("pkg.F"); ok {
		t.Error("pkg.F survived its removal")
	}
	if len(h.s.Pending()) != 0 {
		t.Errorf("Pending() = %v", h.s.Pending())
	}
}

func TestInvalidChangeRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("a.unit", top("pkg", "A"))
	h.update("r1", change.Add("a.unit"))
	before := h.s.AllUnits()

	tests := []struct {
		name string
		set  change.Set
	}{
		{"relocation without origin", change.Set{{Kind: change.Relocated, Path: "a.unit"}}},
		{"modified artifact missing", change.Set{change.Modify("nope.unit")}},
		{"empty path", change.Set{{Kind: change.Added}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.s.Update(context.Background(), "bad", tt.set)
			if !errors.Is(err, ErrInvalidChangeRecord) {
				t.Fatalf("expected ErrInvalidChangeRecord, got %v", err)
			}
			if !IsFatal(err) || IsRetryable(err) {
				t.Error("invalid change record should be fatal")
			}
			if got := h.s.AllUnits(); !reflect.DeepEqual(got, before) {
				t.Error("model changed by invalid change set")
			}
		})
	}
}

func TestCancellationRestoresSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("a.unit", top("pkg", "A"))
	h.declare("b.unit", top("pkg", "B", "pkg.A"))
	h.update("r1", change.Add("a.unit"), change.Add("b.unit"))
	before := h.s.AllUnits()

	ctx, cancel := context.WithCancel(context.Background())
	h.fb.hook = func(context.Context) error {
		cancel()
		return nil
	}
	_, err := h.s.Update(ctx, "r2", change.Set{change.Modify("a.unit")})
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if got := h.s.AllUnits(); !reflect.DeepEqual(got, before) {
		t.Errorf("model changed by cancelled cycle:\n got %v\nwant %v", got, before)
	}
	// Outputs were purged before the builder ran, so both artifacts are
	// retried on the next cycle.
	if pending := h.s.Pending(); len(pending) != 2 {
		t.Errorf("Pending() = %v, want a.unit and b.unit", pending)
	}

	h.fb.hook = nil
	report := h.update("r3")
	if len(report.RebuildSet) != 2 || len(report.Pending) != 0 {
		t.Errorf("recovery cycle: rebuild=%v pending=%v", report.RebuildSet, report.Pending)
	}
}

func TestDeadlineIsTotalFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("a.unit", top("pkg", "A"))
	h.update("r1", change.Add("a.unit"))

	h.fb.hook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.s.Update(ctx, "r2", change.Set{change.Modify("a.unit")})
	if !errors.Is(err, context.DeadlineExceeded) || !IsRetryable(err) {
		t.Fatalf("expected retryable deadline error, got %v", err)
	}
	if _, ok := h.s.Snapshot().Unit("pkg.A"); !ok {
		t.Error("pkg.A lost after deadline rollback")
	}
}

func TestRelocation(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("old.unit", top("pkg", "A"))
	h.declare("user.unit", top("pkg", "User", "pkg.A"))
	h.update("r1", change.Add("old.unit"), change.Add("user.unit"))

	h.delete("old.unit")
	h.declare("new.unit", top("pkg", "A"))
	report := h.update("r2", change.Relocate("old.unit", "new.unit"))

	snap := h.s.Snapshot()
	if snap.HasArtifact(h.id("old.unit")) {
		t.Error("units still attributed to relocated-away artifact")
	}
	if u, ok := snap.Unit("pkg.A"); !ok || u.Artifact != h.id("new.unit") {
		t.Errorf("pkg.A = %+v, want attributed to new.unit", u)
	}
	if !contains(report.RebuildSet, h.id("user.unit")) {
		t.Errorf("referencer of relocated unit not rebuilt: %v", report.RebuildSet)
	}
	if contains(report.RebuildSet, h.id("old.unit")) {
		t.Error("relocated-away artifact was parsed")
	}
}

func TestRemovalThroughDeletedSymlink(t *testing.T) {
	h := newHarness(t, nil)
	if err := os.Mkdir(filepath.Join(h.dir, "real"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(h.dir, "real"), filepath.Join(h.dir, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	h.declare(filepath.Join("real", "a.unit"), top("pkg", "A"))
	h.update("r1", change.Add(filepath.Join("link", "a.unit")))
	if !h.s.Known(filepath.Join(h.dir, "real", "a.unit")) {
		t.Fatal("artifact added through the link not attributed to its target")
	}

	for _, p := range []string{"link", "real"} {
		if err := os.RemoveAll(filepath.Join(h.dir, p)); err != nil {
			t.Fatal(err)
		}
	}
	report := h.update("r2", change.Remove(filepath.Join("link", "a.unit")))
	if report.UnitsRemoved != 1 || h.s.Stats().Units != 0 {
		t.Errorf("units left after removal through a deleted link: removed=%d live=%d", report.UnitsRemoved, h.s.Stats().Units)
	}
}

func TestVanishedPendingArtifactIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("x.unit", top("pkg", "X"))
	h.fb.fail[h.id("x.unit")] = true
	h.update("r1", change.Add("x.unit"))

	// The file disappears without a change record.
	h.delete("x.unit")
	report := h.update("r2")
	if !contains(report.Vanished, h.id("x.unit")) {
		t.Errorf("Vanished = %v", report.Vanished)
	}
	if len(report.Pending) != 0 {
		t.Errorf("Pending = %v, want empty", report.Pending)
	}
}

func TestDuplicateUnitAcrossArtifactsFails(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("a.unit", top("pkg", "Same"))
	h.declare("b.unit", top("pkg", "Same"), top("pkg", "Other"))
	report := h.update("r1", change.Add("a.unit"), change.Add("b.unit"))

	if !contains(report.Failed, h.id("b.unit")) {
		t.Errorf("Failed = %v, want b.unit", report.Failed)
	}
	snap := h.s.Snapshot()
	if snap.HasArtifact(h.id("b.unit")) {
		t.Error("failed artifact left partial units in the model")
	}
	if snap.Len() != 1 {
		t.Errorf("model holds %d units, want 1", snap.Len())
	}
}

func TestNonIncrementalRebuildsEverything(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Incremental = false })
	h.declare("a.unit", top("pkg", "A"))
	h.declare("b.unit", top("pkg", "B"))
	h.update("r1", change.Add("a.unit"), change.Add("b.unit"))

	report := h.update("r2")
	if len(report.RebuildSet) != 2 {
		t.Errorf("rebuild set = %v, want every artifact", report.RebuildSet)
	}
	if got := h.s.Stats().Units; got != 2 {
		t.Errorf("Stats().Units = %d, want 2", got)
	}
}

func TestMissingOutputIsRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.declare("a.unit", top("pkg", "A"))
	h.update("r1", change.Add("a.unit"))

	if err := h.store.Delete(context.Background(), "pkg/A.out"); err != nil {
		t.Fatal(err)
	}
	report := h.update("r2")
	if !contains(report.Pending, h.id("a.unit")) {
		t.Fatalf("artifact with missing output not pending: %v", report.Pending)
	}
	report = h.update("r3")
	if !contains(report.RebuildSet, h.id("a.unit")) || len(report.Pending) != 0 {
		t.Errorf("r3: rebuild=%v pending=%v", report.RebuildSet, report.Pending)
	}
	if _, ok := h.store.Get("pkg/A.out"); !ok {
		t.Error("output not restored")
	}
}

// flakyStore fails the first delete of every output.
type flakyStore struct {
	*outputs.MemStore
	failed map[outputs.ID]bool
}

func (s *flakyStore) Delete(ctx context.Context, id outputs.ID) error {
	if !s.failed[id] {
		s.failed[id] = true
		return errors.New("device busy")
	}
	return s.MemStore.Delete(ctx, id)
}

func TestFailedDeletionIsRetried(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mem := outputs.NewMemStore()
	store := &flakyStore{MemStore: mem, failed: make(map[outputs.ID]bool)}
	a := artifact.ID(filepath.Join(dir, "a.unit"))
	if err := os.WriteFile(string(a), nil, 0644); err != nil {
		t.Fatal(err)
	}
	fb := &fakeBuilder{
		store:  mem,
		decls:  map[artifact.ID][]model.Unit{a: {{ID: "pkg.A", Name: "A", Namespace: "pkg", Artifact: a, Line: 1}}},
		fail:   map[artifact.ID]bool{},
		layout: outputs.Layout{},
	}
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	cfg.Logger = log.New(io.Discard, "", 0)
	s, err := New(fb, store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.Update(ctx, "r1", change.Set{change.Add("a.unit")}); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(string(a)); err != nil {
		t.Fatal(err)
	}
	report, err := s.Update(ctx, "r2", change.Set{change.Remove("a.unit")})
	if err != nil {
		t.Fatalf("a failed deletion must not fail the cycle: %v", err)
	}
	if report.LeakedOutputs != 1 {
		t.Errorf("LeakedOutputs = %d, want 1", report.LeakedOutputs)
	}
	if _, ok := mem.Get("pkg/A.out"); !ok {
		t.Fatal("flaky store deleted on first attempt")
	}

	report, err = s.Update(ctx, "r3", nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.LeakedOutputs != 0 {
		t.Errorf("LeakedOutputs after retry = %d", report.LeakedOutputs)
	}
	if _, ok := mem.Get("pkg/A.out"); ok {
		t.Error("leaked output was not deleted on retry")
	}
}

func TestIncludeFilterIgnoresOtherFiles(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Include = func(a artifact.ID) bool { return filepath.Ext(string(a)) == ".unit" }
	})
	h.declare("a.unit", top("pkg", "A"))
	report := h.update("r1", change.Add("a.unit"), change.Modify("README.md"))
	if len(report.RebuildSet) != 1 {
		t.Errorf("rebuild set = %v", report.RebuildSet)
	}
	if !h.s.Known(filepath.Join(h.dir, "a.unit")) || h.s.Known("README.md") {
		t.Error("Known() disagrees with the tracked artifacts")
	}
}
