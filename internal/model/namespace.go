package model

import (
	"sort"

	"github.com/steveyegge/modelsync/internal/artifact"
)

// Namespace is a node of the namespace hierarchy. The root has an empty path.
type Namespace struct {
	name     string
	path     string
	children map[string]*Namespace
	units    map[UnitID]struct{}
	marker   artifact.ID
}

func newNamespace(name, path string) *Namespace {
	return &Namespace{
		name:     name,
		path:     path,
		children: make(map[string]*Namespace),
		units:    make(map[UnitID]struct{}),
	}
}

// Name returns the last segment of the namespace path.
func (ns *Namespace) Name() string { return ns.name }

// Path returns the dotted path of the namespace.
func (ns *Namespace) Path() string { return ns.path }

// Marker returns the marker artifact keeping the namespace alive, if any.
func (ns *Namespace) Marker() artifact.ID { return ns.marker }

// Children returns the child namespaces ordered by name.
func (ns *Namespace) Children() []*Namespace {
	out := make([]*Namespace, 0, len(ns.children))
	for _, c := range ns.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// UnitIDs returns the ids of the top-level units directly in the namespace.
func (ns *Namespace) UnitIDs() []UnitID {
	out := make([]UnitID, 0, len(ns.units))
	for id := range ns.units {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (ns *Namespace) empty() bool {
	return len(ns.units) == 0 && len(ns.children) == 0 && ns.marker == ""
}

func (ns *Namespace) clone() *Namespace {
	c := newNamespace(ns.name, ns.path)
	c.marker = ns.marker
	for id := range ns.units {
		c.units[id] = struct{}{}
	}
	for name, child := range ns.children {
		c.children[name] = child.clone()
	}
	return c
}

// Namespace returns the node at path. The empty path names the root.
func (m *Model) Namespace(path string) (*Namespace, bool) {
	ns := m.root
	for _, seg := range SplitNamespace(path) {
		child, ok := ns.children[seg]
		if !ok {
			return nil, false
		}
		ns = child
	}
	return ns, true
}

// Root returns the root namespace.
func (m *Model) Root() *Namespace { return m.root }

// Namespaces returns the paths of every non-root namespace in lexical order.
func (m *Model) Namespaces() []string {
	var out []string
	var walk func(ns *Namespace)
	walk = func(ns *Namespace) {
		for _, c := range ns.children {
			out = append(out, c.path)
			walk(c)
		}
	}
	walk(m.root)
	sort.Strings(out)
	return out
}

func joinNamespace(parent, seg string) string {
	if parent == "" {
		return seg
	}
	return parent + "." + seg
}

// ClearMarker removes a as a marker from every namespace it marks and
// returns the affected paths.
func (m *Model) ClearMarker(a artifact.ID) []string {
	var cleared []string
	var walk func(ns *Namespace)
	walk = func(ns *Namespace) {
		if ns.marker == a {
			ns.marker = ""
			cleared = append(cleared, ns.path)
		}
		for _, c := range ns.children {
			walk(c)
		}
	}
	walk(m.root)
	sort.Strings(cleared)
	return cleared
}
