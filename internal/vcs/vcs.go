// Package vcs provides the revision source that feeds the synchronizer: it
// lists the revisions of a repository and classifies the files changed by
// each revision transition.
//
// Backends live in the git and jj subpackages and register themselves with
// Register from their init functions. Open detects the repository type of a
// path and returns the matching History.
package vcs

import (
	"context"
	"time"

	"github.com/steveyegge/modelsync/internal/change"
)

// Type identifies a version control system.
type Type string

const (
	TypeGit Type = "git"
	TypeJJ  Type = "jj"
	// TypeColocate is a repository with both .jj and .git.
	TypeColocate Type = "colocate"
)

func (t Type) String() string { return string(t) }

// Revision is one entry of a repository history.
type Revision struct {
	ID      string    `json:"id"`
	Author  string    `json:"author,omitempty"`
	Time    time.Time `json:"time"`
	Summary string    `json:"summary,omitempty"`
}

// Short returns the first 12 characters of the revision id.
func (r Revision) Short() string {
	if len(r.ID) > 12 {
		return r.ID[:12]
	}
	return r.ID
}

// History is a read-only view of a repository history.
type History interface {
	// Name returns the backend type.
	Name() Type

	// Root returns the repository root directory.
	Root() string

	// Revisions lists the revisions reachable from to but not from from,
	// oldest first. An empty from lists the whole history of to. An empty to
	// means the current revision.
	Revisions(ctx context.Context, from, to string) ([]Revision, error)

	// Changes classifies the files that differ between two revisions.
	// Paths are relative to the repository root. An empty from compares
	// against the empty tree, so every file is Added.
	Changes(ctx context.Context, from, to string) (change.Set, error)

	// Checkout materializes rev in dir, creating a scratch workspace the
	// first time. Files removed by rev are removed from dir.
	Checkout(ctx context.Context, dir, rev string) error

	// Release removes the scratch workspace at dir.
	Release(ctx context.Context, dir string) error
}

// Since returns the revisions whose time is not before t.
func Since(revs []Revision, t time.Time) []Revision {
	if t.IsZero() {
		return revs
	}
	out := make([]Revision, 0, len(revs))
	for _, r := range revs {
		if !r.Time.Before(t) {
			out = append(out, r)
		}
	}
	return out
}
