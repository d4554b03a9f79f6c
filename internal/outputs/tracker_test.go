package outputs

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/model"
)

func testUnit(ns, parent, name string, a artifact.ID) model.Unit {
	return model.Unit{
		ID:        model.QualifiedName(ns, model.UnitID(parent), name),
		Name:      name,
		Namespace: ns,
		Parent:    model.UnitID(parent),
		Artifact:  a,
		Line:      1,
	}
}

func nestedModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New()
	for _, u := range []model.Unit{
		testUnit("a.b", "", "Outer", "/o.json"),
		testUnit("a.b", "a.b.Outer", "Inner", "/o.json"),
		testUnit("a.b", "a.b.Outer$Inner", "1", "/o.json"),
		testUnit("a.b", "a.b.Outer", "2", "/o.json"),
		testUnit("", "", "Main", "/main.json"),
	} {
		if err := m.Add(u); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func quietConfig() *TrackerConfig {
	cfg := DefaultTrackerConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func TestExpectedOutputs(t *testing.T) {
	m := nestedModel(t)
	tr := NewTracker(NewMemStore(), quietConfig())

	outer, _ := m.Unit("a.b.Outer")
	got := tr.ExpectedOutputs(m, outer)
	want := []ID{"a/b/Outer$2.out", "a/b/Outer$Inner$1.out", "a/b/Outer$Inner.out", "a/b/Outer.out"}
	if len(got) != len(want) {
		t.Fatalf("ExpectedOutputs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ExpectedOutputs[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Nested units carry their enclosing chain even when asked directly.
	inner, _ := m.Unit("a.b.Outer$Inner")
	got = tr.ExpectedOutputs(m, inner)
	if len(got) != 2 || got[0] != "a/b/Outer$Inner$1.out" || got[1] != "a/b/Outer$Inner.out" {
		t.Errorf("ExpectedOutputs(inner) = %v", got)
	}

	// Root namespace units live at the top of the store.
	main, _ := m.Unit("Main")
	if got := tr.ExpectedOutputs(m, main); len(got) != 1 || got[0] != "Main.out" {
		t.Errorf("ExpectedOutputs(Main) = %v", got)
	}

	// Repeated calls are stable.
	again := tr.ExpectedOutputs(m, outer)
	if strings.Join(idStrings(again), ",") != strings.Join(idStrings(want), ",") {
		t.Errorf("ExpectedOutputs not stable: %v", again)
	}
}

func idStrings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func TestStaleArtifacts(t *testing.T) {
	ctx := context.Background()
	m := nestedModel(t)
	store := NewMemStore()
	tr := NewTracker(store, quietConfig())

	for _, id := range []ID{"a/b/Outer.out", "a/b/Outer$Inner.out", "a/b/Outer$2.out", "Main.out"} {
		if err := store.Put(ctx, id, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	stale, err := tr.StaleArtifacts(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || !stale.Has("/o.json") {
		t.Errorf("StaleArtifacts = %v, want [/o.json]", stale.Sorted())
	}

	outer, _ := m.Unit("a.b.Outer")
	missing, err := tr.Missing(ctx, m, outer)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || missing[0] != "a/b/Outer$Inner$1.out" {
		t.Errorf("Missing = %v", missing)
	}

	if err := store.Put(ctx, "a/b/Outer$Inner$1.out", []byte("x")); err != nil {
		t.Fatal(err)
	}
	stale, err = tr.StaleAmong(ctx, m, artifact.NewSet("/o.json", "/main.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("StaleAmong after completing outputs = %v", stale.Sorted())
	}
}

type failingStore struct{ Store }

func (failingStore) Exists(ctx context.Context, id ID) (bool, error) {
	return false, errors.New("disk on fire")
}

func TestStoreErrorsCountAsStale(t *testing.T) {
	m := nestedModel(t)
	tr := NewTracker(failingStore{NewMemStore()}, quietConfig())
	main, _ := m.Unit("Main")
	stale, err := tr.IsStale(context.Background(), m, main)
	if err != nil {
		t.Fatalf("IsStale returned error: %v", err)
	}
	if !stale {
		t.Error("unit with unreadable outputs should be stale")
	}
}
