// Package change describes the per-revision change records fed to the
// synchronizer and resolves them into canonical artifact identities.
package change

import (
	"errors"
	"fmt"
	"strings"

	"github.com/steveyegge/modelsync/internal/artifact"
)

// Kind classifies a change record.
type Kind int

const (
	Added Kind = iota + 1
	Removed
	Modified
	Relocated
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	case Relocated:
		return "relocated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a name produced by Kind.String back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "added", "add", "a":
		return Added, nil
	case "removed", "remove", "deleted", "d":
		return Removed, nil
	case "modified", "modify", "m":
		return Modified, nil
	case "relocated", "renamed", "moved", "r":
		return Relocated, nil
	}
	return 0, fmt.Errorf("unknown change kind %q", s)
}

// Record is a single change to one artifact. Path names the artifact for
// Added, Removed and Modified records. For Relocated records From is the old
// location and Path the new one.
type Record struct {
	Kind Kind
	Path string
	From string
}

// Add returns an Added record for path.
func Add(path string) Record { return Record{Kind: Added, Path: path} }

// Remove returns a Removed record for path.
func Remove(path string) Record { return Record{Kind: Removed, Path: path} }

// Modify returns a Modified record for path.
func Modify(path string) Record { return Record{Kind: Modified, Path: path} }

// Relocate returns a Relocated record moving from to path.
func Relocate(from, path string) Record { return Record{Kind: Relocated, Path: path, From: from} }

func (r Record) String() string {
	if r.Kind == Relocated {
		return fmt.Sprintf("%s %s -> %s", r.Kind, r.From, r.Path)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.Path)
}

// Set is the unordered collection of records for one revision transition.
type Set []Record

// Empty reports whether the set holds no records.
func (s Set) Empty() bool { return len(s) == 0 }

// RecordError reports a change record that could not be resolved.
type RecordError struct {
	Record Record
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("invalid change record %q: %v", e.Record.String(), e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

var (
	errNoPath       = errors.New("missing path")
	errNoOrigin     = errors.New("relocation without origin")
	errUnknownKind  = errors.New("unknown kind")
	errSameLocation = errors.New("relocation to the same artifact")
	errMissing      = errors.New("artifact does not exist")
)

// Canonicalizer maps a path to its artifact identity.
type Canonicalizer interface {
	Canonical(path string) (artifact.ID, error)
}

// Resolved holds a change set translated into artifact identities.
type Resolved struct {
	Added    artifact.Set
	Modified artifact.Set
	Removed  artifact.Set
	// RelocatedFrom and RelocatedTo hold the old and new side of every
	// relocation.
	RelocatedFrom artifact.Set
	RelocatedTo   artifact.Set
	// Ignored counts records dropped by the include filter.
	Ignored int
}

// Gone returns every identity that no longer exists after the transition:
// removed artifacts and the old side of relocations.
func (r *Resolved) Gone() artifact.Set {
	gone := r.Removed.Clone()
	gone.Union(r.RelocatedFrom)
	return gone
}

// Present returns every identity whose new content must be parsed: added,
// modified and the new side of relocations.
func (r *Resolved) Present() artifact.Set {
	present := r.Added.Clone()
	present.Union(r.Modified)
	present.Union(r.RelocatedTo)
	return present
}

// Options controls Resolve.
type Options struct {
	// Include filters the artifacts the caller tracks. Nil accepts all.
	Include func(artifact.ID) bool
	// Exists reports whether an artifact is present on disk. When set, the
	// new side of Added, Modified and Relocated records must exist.
	Exists func(artifact.ID) bool
}

// Resolve canonicalizes every record of set. Records rejected by the include
// filter are skipped. The first record that cannot be resolved aborts
// resolution with a *RecordError.
func Resolve(set Set, c Canonicalizer, opts Options) (*Resolved, error) {
	r := &Resolved{
		Added:         artifact.NewSet(),
		Modified:      artifact.NewSet(),
		Removed:       artifact.NewSet(),
		RelocatedFrom: artifact.NewSet(),
		RelocatedTo:   artifact.NewSet(),
	}
	accept := func(id artifact.ID) bool { return opts.Include == nil || opts.Include(id) }
	present := func(id artifact.ID) bool { return opts.Exists == nil || opts.Exists(id) }

	for _, rec := range set {
		if rec.Path == "" {
			return nil, &RecordError{Record: rec, Err: errNoPath}
		}
		id, err := c.Canonical(rec.Path)
		if err != nil {
			return nil, &RecordError{Record: rec, Err: err}
		}

		switch rec.Kind {
		case Added, Modified, Removed:
			if !accept(id) {
				r.Ignored++
				continue
			}
			if rec.Kind != Removed && !present(id) {
				return nil, &RecordError{Record: rec, Err: errMissing}
			}
			switch rec.Kind {
			case Added:
				r.Added.Add(id)
			case Modified:
				r.Modified.Add(id)
			default:
				r.Removed.Add(id)
			}
		case Relocated:
			if rec.From == "" {
				return nil, &RecordError{Record: rec, Err: errNoOrigin}
			}
			from, err := c.Canonical(rec.From)
			if err != nil {
				return nil, &RecordError{Record: rec, Err: err}
			}
			if from == id {
				return nil, &RecordError{Record: rec, Err: errSameLocation}
			}
			// A relocation across the filter boundary degrades to a
			// plain add or remove of the side that is tracked.
			if accept(from) {
				r.RelocatedFrom.Add(from)
			}
			if accept(id) {
				if !present(id) {
					return nil, &RecordError{Record: rec, Err: errMissing}
				}
				r.RelocatedTo.Add(id)
			}
			if !accept(from) && !accept(id) {
				r.Ignored++
			}
		default:
			return nil, &RecordError{Record: rec, Err: errUnknownKind}
		}
	}
	return r, nil
}
