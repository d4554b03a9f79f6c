package model

import (
	"strings"

	"github.com/steveyegge/modelsync/internal/artifact"
)

// UnitID is the stable identity of a declared unit: its qualified name.
type UnitID string

// Unit is a declared unit extracted from exactly one source artifact.
//
// Units are values. The model never mutates a stored unit; replacing a unit
// means removing its artifact and adding the newly parsed units.
type Unit struct {
	ID UnitID `json:"id"`
	// Name is the simple name. Anonymous units carry their 1-based ordinal
	// among anonymous siblings ("1", "2", ...).
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	Parent    UnitID      `json:"parent,omitempty"`
	Artifact  artifact.ID `json:"artifact"`
	Line      int         `json:"line"`
	Refs      []UnitID    `json:"refs,omitempty"`
	Synthetic bool        `json:"synthetic,omitempty"`
}

// HasPosition reports whether the unit has a valid source position.
// Synthetic or generated units have none.
func (u Unit) HasPosition() bool {
	return !u.Synthetic && u.Artifact != "" && u.Line > 0
}

// TopLevel reports whether the unit is directly inside its namespace.
func (u Unit) TopLevel() bool { return u.Parent == "" }

// QualifiedName builds the UnitID of a unit. Top-level units are qualified
// by their namespace with '.', nested units by their parent with '$'.
func QualifiedName(namespace string, parent UnitID, name string) UnitID {
	if parent != "" {
		return UnitID(string(parent) + "$" + name)
	}
	if namespace == "" {
		return UnitID(name)
	}
	return UnitID(namespace + "." + name)
}

// SplitNamespace splits a dotted namespace path into its segments.
func SplitNamespace(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
