package model

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/steveyegge/modelsync/internal/artifact"
)

// PathTree groups artifacts into their directory hierarchy for reporting.
type PathTree struct {
	Name     string
	Path     string
	Children []*PathTree
	// Artifact is set on leaves.
	Artifact artifact.ID
}

// NewPathTree builds a tree of ids relative to root. Artifacts outside root
// are placed under their absolute path.
func NewPathTree(root string, ids []artifact.ID) *PathTree {
	top := &PathTree{Name: filepath.Base(root), Path: root}
	for _, id := range ids {
		rel, err := filepath.Rel(root, string(id))
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = strings.TrimPrefix(string(id), string(filepath.Separator))
		}
		node := top
		parts := strings.Split(filepath.ToSlash(rel), "/")
		for i, part := range parts {
			child := node.child(part)
			if child == nil {
				child = &PathTree{Name: part, Path: filepath.Join(node.Path, part)}
				node.Children = append(node.Children, child)
			}
			if i == len(parts)-1 {
				child.Artifact = id
			}
			node = child
		}
	}
	top.sort()
	return top
}

// Leaf reports whether the node is an artifact rather than a directory.
func (t *PathTree) Leaf() bool { return t.Artifact != "" && len(t.Children) == 0 }

// Walk visits every node depth first with its depth below the root.
func (t *PathTree) Walk(fn func(node *PathTree, depth int)) {
	var walk func(n *PathTree, depth int)
	walk = func(n *PathTree, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(t, 0)
}

// Render writes an indented listing of the tree, annotating each leaf with
// the value returned by label.
func (t *PathTree) Render(w io.Writer, label func(artifact.ID) string) error {
	var err error
	t.Walk(func(n *PathTree, depth int) {
		if err != nil {
			return
		}
		line := strings.Repeat("  ", depth) + n.Name
		if n.Leaf() {
			if label != nil {
				if l := label(n.Artifact); l != "" {
					line += "  " + l
				}
			}
		} else {
			line += "/"
		}
		_, err = fmt.Fprintln(w, line)
	})
	return err
}

func (t *PathTree) child(name string) *PathTree {
	for _, c := range t.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (t *PathTree) sort() {
	sort.Slice(t.Children, func(i, j int) bool {
		// Directories before files.
		li, lj := t.Children[i].Leaf(), t.Children[j].Leaf()
		if li != lj {
			return !li
		}
		return t.Children[i].Name < t.Children[j].Name
	})
	for _, c := range t.Children {
		c.sort()
	}
}
