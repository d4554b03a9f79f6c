package model

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/steveyegge/modelsync/internal/artifact"
)

func unit(ns, parent, name string, a artifact.ID, refs ...UnitID) Unit {
	return Unit{
		ID:        QualifiedName(ns, UnitID(parent), name),
		Name:      name,
		Namespace: ns,
		Parent:    UnitID(parent),
		Artifact:  a,
		Line:      1,
		Refs:      refs,
	}
}

func newTestModel(t *testing.T, units ...Unit) *Model {
	t.Helper()
	m := New()
	for _, u := range units {
		if err := m.Add(u); err != nil {
			t.Fatalf("Add(%s) failed: %v", u.ID, err)
		}
	}
	return m
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		ns, parent, name string
		want             UnitID
	}{
		{"", "", "Main", "Main"},
		{"a.b", "", "Outer", "a.b.Outer"},
		{"a.b", "a.b.Outer", "Inner", "a.b.Outer$Inner"},
		{"a.b", "a.b.Outer", "1", "a.b.Outer$1"},
	}
	for _, tt := range tests {
		if got := QualifiedName(tt.ns, UnitID(tt.parent), tt.name); got != tt.want {
			t.Errorf("QualifiedName(%q, %q, %q) = %q, want %q", tt.ns, tt.parent, tt.name, got, tt.want)
		}
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	m := newTestModel(t, unit("pkg", "", "A", "/f.json"))
	err := m.Add(unit("pkg", "", "A", "/g.json"))
	if !errors.Is(err, ErrDuplicateUnit) {
		t.Fatalf("expected ErrDuplicateUnit, got %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestRemoveArtifactAndPrune(t *testing.T) {
	m := newTestModel(t,
		unit("pkg", "", "U", "/f.json"),
		unit("pkg", "pkg.U", "Inner", "/f.json"),
		unit("other", "", "V", "/g.json"),
	)

	removed := m.RemoveArtifact("/f.json")
	if len(removed) != 2 {
		t.Fatalf("removed %d units, want 2", len(removed))
	}
	if _, ok := m.Namespace("pkg"); !ok {
		t.Fatal("namespace pruned before Prune ran")
	}

	pruned := m.Prune(func(artifact.ID) bool { return false })
	if len(pruned) != 1 || pruned[0] != "pkg" {
		t.Errorf("Prune() = %v, want [pkg]", pruned)
	}
	if _, ok := m.Namespace("pkg"); ok {
		t.Error("pkg still present after prune")
	}
	if got := m.UnitsInNamespace("other"); len(got) != 1 {
		t.Errorf("other namespace lost units: %v", got)
	}
}

func TestPruneCascadesAndHonorsMarkers(t *testing.T) {
	m := newTestModel(t,
		unit("a.b.c", "", "X", "/x.json"),
		unit("m.n", "", "Y", "/y.json"),
	)
	m.SetMarker("m", "/m/namespace.unit.json")

	m.RemoveArtifact("/x.json")
	m.RemoveArtifact("/y.json")

	markerPresent := func(a artifact.ID) bool { return a == "/m/namespace.unit.json" }
	pruned := m.Prune(markerPresent)
	want := []string{"a.b.c", "a.b", "m.n", "a"}
	if strings.Join(pruned, ",") != strings.Join(want, ",") {
		t.Errorf("Prune() = %v, want %v", pruned, want)
	}
	ns, ok := m.Namespace("m")
	if !ok {
		t.Fatal("marked namespace was pruned")
	}
	if ns.Marker() != "/m/namespace.unit.json" {
		t.Errorf("Marker() = %q", ns.Marker())
	}

	// Once the marker is gone from disk the namespace goes too.
	pruned = m.Prune(func(artifact.ID) bool { return false })
	if len(pruned) != 1 || pruned[0] != "m" {
		t.Errorf("second Prune() = %v, want [m]", pruned)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := newTestModel(t, unit("pkg", "", "A", "/a.json"), unit("pkg", "", "B", "/b.json"))
	snap := m.Clone()

	m.RemoveArtifact("/a.json")
	m.Prune(nil)
	if err := m.Add(unit("pkg", "", "C", "/c.json")); err != nil {
		t.Fatal(err)
	}

	if snap.Len() != 2 {
		t.Errorf("snapshot Len() = %d, want 2", snap.Len())
	}
	if _, ok := snap.Unit("pkg.A"); !ok {
		t.Error("snapshot lost pkg.A")
	}
	if _, ok := snap.Unit("pkg.C"); ok {
		t.Error("snapshot sees unit added after clone")
	}
	if got := len(snap.UnitsInNamespace("pkg")); got != 2 {
		t.Errorf("snapshot namespace holds %d units, want 2", got)
	}
}

func TestUnitsInNamespaceIncludesNested(t *testing.T) {
	m := newTestModel(t,
		unit("pkg", "", "Outer", "/o.json"),
		unit("pkg", "pkg.Outer", "Inner", "/o.json"),
		unit("pkg", "pkg.Outer$Inner", "1", "/o.json"),
		unit("pkg.sub", "", "Deep", "/d.json"),
	)
	got := m.UnitsInNamespace("pkg")
	var ids []string
	for _, u := range got {
		ids = append(ids, string(u.ID))
	}
	want := "pkg.Outer,pkg.Outer$Inner,pkg.Outer$Inner$1"
	if strings.Join(ids, ",") != want {
		t.Errorf("UnitsInNamespace(pkg) = %v, want %s", ids, want)
	}
	if kids := m.Children("pkg.Outer"); len(kids) != 1 || kids[0].Name != "Inner" {
		t.Errorf("Children(pkg.Outer) = %v", kids)
	}
	if got := m.Namespaces(); strings.Join(got, ",") != "pkg,pkg.sub" {
		t.Errorf("Namespaces() = %v", got)
	}
}

func TestHasPosition(t *testing.T) {
	u := unit("", "", "A", "/a.json")
	if !u.HasPosition() {
		t.Error("unit with artifact and line should have a position")
	}
	u.Line = 0
	if u.HasPosition() {
		t.Error("unit without line should not have a position")
	}
	u.Line = 3
	u.Synthetic = true
	if u.HasPosition() {
		t.Error("synthetic unit should not have a position")
	}
}

func TestPathTreeRender(t *testing.T) {
	tree := NewPathTree("/repo", []artifact.ID{
		"/repo/src/b.unit.json",
		"/repo/src/a.unit.json",
		"/repo/top.unit.json",
		"/repo/src/sub/c.unit.json",
	})
	var buf bytes.Buffer
	if err := tree.Render(&buf, func(a artifact.ID) string {
		if a == "/repo/top.unit.json" {
			return "(pending)"
		}
		return ""
	}); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"repo/",
		"  src/",
		"    sub/",
		"      c.unit.json",
		"    a.unit.json",
		"    b.unit.json",
		"  top.unit.json  (pending)",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("Render() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestClearMarker(t *testing.T) {
	m := New()
	m.SetMarker("a.b", "/marker.json")
	m.SetMarker("c", "/other.json")
	if got := m.ClearMarker("/marker.json"); len(got) != 1 || got[0] != "a.b" {
		t.Errorf("ClearMarker = %v", got)
	}
	pruned := m.Prune(func(artifact.ID) bool { return true })
	if len(pruned) != 2 {
		t.Errorf("Prune after ClearMarker = %v, want a.b and a", pruned)
	}
	if _, ok := m.Namespace("c"); !ok {
		t.Error("namespace with remaining marker was pruned")
	}
}
