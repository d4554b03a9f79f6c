// Package model holds the live model: the arena of declared units keyed by
// UnitID and the namespace hierarchy that groups them.
//
// References between units are stored as UnitIDs, never pointers, so the
// model can be cloned cheaply and reference cycles across artifacts are
// plain data.
package model

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/steveyegge/modelsync/internal/artifact"
)

// ErrDuplicateUnit is returned by Add when the UnitID is already taken.
var ErrDuplicateUnit = errors.New("duplicate unit")

// Model is the live model. It is not safe for concurrent mutation; readers
// running alongside a writer must work on a Clone.
type Model struct {
	units      map[UnitID]*Unit
	byArtifact map[artifact.ID]map[UnitID]struct{}
	children   map[UnitID]map[UnitID]struct{}
	root       *Namespace
}

// New returns an empty model holding only the root namespace.
func New() *Model {
	return &Model{
		units:      make(map[UnitID]*Unit),
		byArtifact: make(map[artifact.ID]map[UnitID]struct{}),
		children:   make(map[UnitID]map[UnitID]struct{}),
		root:       newNamespace("", ""),
	}
}

// Len returns the number of declared units.
func (m *Model) Len() int { return len(m.units) }

// Add inserts u, creating its namespace path as needed.
func (m *Model) Add(u Unit) error {
	if u.ID == "" {
		return fmt.Errorf("unit %q in %s has no id", u.Name, u.Artifact)
	}
	if prev, ok := m.units[u.ID]; ok {
		return fmt.Errorf("%w: %s declared in %s and %s", ErrDuplicateUnit, u.ID, prev.Artifact, u.Artifact)
	}
	stored := u
	m.units[u.ID] = &stored

	if m.byArtifact[u.Artifact] == nil {
		m.byArtifact[u.Artifact] = make(map[UnitID]struct{})
	}
	m.byArtifact[u.Artifact][u.ID] = struct{}{}

	if u.Parent != "" {
		if m.children[u.Parent] == nil {
			m.children[u.Parent] = make(map[UnitID]struct{})
		}
		m.children[u.Parent][u.ID] = struct{}{}
	} else {
		m.ensureNamespace(u.Namespace).units[u.ID] = struct{}{}
	}
	return nil
}

// Unit returns the unit with the given id.
func (m *Model) Unit(id UnitID) (Unit, bool) {
	u, ok := m.units[id]
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

// Units returns every unit ordered by id.
func (m *Model) Units() []Unit {
	out := make([]Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, *u)
	}
	sortUnits(out)
	return out
}

// UnitsOf returns the units attributed to artifact a, ordered by id.
func (m *Model) UnitsOf(a artifact.ID) []Unit {
	ids := m.byArtifact[a]
	out := make([]Unit, 0, len(ids))
	for id := range ids {
		out = append(out, *m.units[id])
	}
	sortUnits(out)
	return out
}

// HasArtifact reports whether any unit is attributed to a.
func (m *Model) HasArtifact(a artifact.ID) bool {
	return len(m.byArtifact[a]) > 0
}

// Artifacts returns every artifact that owns at least one unit.
func (m *Model) Artifacts() []artifact.ID {
	set := make(artifact.Set, len(m.byArtifact))
	for a, ids := range m.byArtifact {
		if len(ids) > 0 {
			set.Add(a)
		}
	}
	return set.Sorted()
}

// Children returns the units directly nested in id, ordered by id.
func (m *Model) Children(id UnitID) []Unit {
	kids := m.children[id]
	out := make([]Unit, 0, len(kids))
	for kid := range kids {
		if u, ok := m.units[kid]; ok {
			out = append(out, *u)
		}
	}
	sortUnits(out)
	return out
}

// UnitsInNamespace returns the units declared in the namespace at path,
// including units nested inside them. Child namespaces are not included.
func (m *Model) UnitsInNamespace(path string) []Unit {
	ns, ok := m.Namespace(path)
	if !ok {
		return nil
	}
	var out []Unit
	var walk func(id UnitID)
	walk = func(id UnitID) {
		u, ok := m.units[id]
		if !ok {
			return
		}
		out = append(out, *u)
		for kid := range m.children[id] {
			walk(kid)
		}
	}
	for id := range ns.units {
		walk(id)
	}
	sortUnits(out)
	return out
}

// RemoveArtifact deletes every unit attributed to a and returns them.
// Namespace nodes are left in place until Prune runs.
func (m *Model) RemoveArtifact(a artifact.ID) []Unit {
	ids := m.byArtifact[a]
	if len(ids) == 0 {
		delete(m.byArtifact, a)
		return nil
	}
	removed := make([]Unit, 0, len(ids))
	for id := range ids {
		u := m.units[id]
		removed = append(removed, *u)
		delete(m.units, id)
		if u.Parent != "" {
			if kids := m.children[u.Parent]; kids != nil {
				delete(kids, id)
				if len(kids) == 0 {
					delete(m.children, u.Parent)
				}
			}
		} else if ns, ok := m.Namespace(u.Namespace); ok {
			delete(ns.units, id)
		}
	}
	delete(m.byArtifact, a)
	sortUnits(removed)
	return removed
}

// SetMarker records a as the marker artifact of the namespace at path.
func (m *Model) SetMarker(path string, a artifact.ID) {
	m.ensureNamespace(path).marker = a
}

// Prune removes namespace nodes that hold no units and no child namespaces
// and whose marker artifact is absent. Markers for which exists reports false
// are cleared first. A nil exists checks the file system. Pruning cascades
// upward; the root namespace is never removed. The paths of the removed
// nodes are returned deepest first.
func (m *Model) Prune(exists func(artifact.ID) bool) []string {
	if exists == nil {
		exists = FileExists
	}
	var pruned []string
	var walk func(ns *Namespace) bool
	walk = func(ns *Namespace) bool {
		for name, child := range ns.children {
			if walk(child) {
				delete(ns.children, name)
				pruned = append(pruned, child.path)
			}
		}
		if ns.marker != "" && !exists(ns.marker) {
			ns.marker = ""
		}
		return ns != m.root && ns.empty()
	}
	walk(m.root)
	sort.Slice(pruned, func(i, j int) bool {
		di, dj := strings.Count(pruned[i], "."), strings.Count(pruned[j], ".")
		if di != dj {
			return di > dj
		}
		return pruned[i] < pruned[j]
	})
	return pruned
}

// Clone returns an independent copy of the model. Units are shared by value
// semantics; the indexes and namespace tree are copied.
func (m *Model) Clone() *Model {
	c := &Model{
		units:      make(map[UnitID]*Unit, len(m.units)),
		byArtifact: make(map[artifact.ID]map[UnitID]struct{}, len(m.byArtifact)),
		children:   make(map[UnitID]map[UnitID]struct{}, len(m.children)),
		root:       m.root.clone(),
	}
	for id, u := range m.units {
		c.units[id] = u
	}
	for a, ids := range m.byArtifact {
		c.byArtifact[a] = copyIDs(ids)
	}
	for p, ids := range m.children {
		c.children[p] = copyIDs(ids)
	}
	return c
}

// FileExists reports whether the artifact is present on disk.
func FileExists(a artifact.ID) bool {
	_, err := os.Stat(string(a))
	return err == nil
}

func (m *Model) ensureNamespace(path string) *Namespace {
	ns := m.root
	for _, seg := range SplitNamespace(path) {
		child, ok := ns.children[seg]
		if !ok {
			child = newNamespace(seg, joinNamespace(ns.path, seg))
			ns.children[seg] = child
		}
		ns = child
	}
	return ns
}

func copyIDs(ids map[UnitID]struct{}) map[UnitID]struct{} {
	out := make(map[UnitID]struct{}, len(ids))
	for id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func sortUnits(units []Unit) {
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
}
