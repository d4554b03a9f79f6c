// Package artifact provides stable identities for source artifacts.
//
// An ID is the absolute, symlink-resolved path of a file. Two change records
// that name the same file through different relative paths or through a
// symlinked directory produce the same ID, so the ID is usable as a join key
// between change records, declared units and derived-output expectations.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of memoized path resolutions.
const DefaultCacheSize = 4096

// ErrEmptyPath is returned when asked to canonicalize an empty path.
var ErrEmptyPath = errors.New("artifact: empty path")

// ID is the canonical identity of a source artifact.
type ID string

// String returns the canonical path.
func (id ID) String() string { return string(id) }

// Dir returns the directory that contains the artifact.
func (id ID) Dir() string { return filepath.Dir(string(id)) }

// Base returns the file name of the artifact.
func (id ID) Base() string { return filepath.Base(string(id)) }

// Set is an unordered collection of artifact identities.
type Set map[ID]struct{}

// NewSet returns a set containing ids.
func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s Set) Add(id ID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id is in the set.
func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Union adds every member of other.
func (s Set) Union(other Set) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Subtract removes every member of other.
func (s Set) Subtract(other Set) {
	for id := range other {
		delete(s, id)
	}
}

// Clone returns a copy of the set.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	c.Union(s)
	return c
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []ID {
	out := make([]ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Canonicalizer turns user supplied paths into IDs.
//
// Relative paths are resolved against the canonicalizer's base directory.
// Paths that no longer exist (removed or relocated-away files) map to the ID
// they last resolved to while the file existed. A missing path that was never
// seen is resolved through its nearest existing ancestor.
type Canonicalizer struct {
	base  string
	cache *lru.Cache[string, ID]
	// seen holds the resolutions of paths that existed. It survives Reset.
	seen *lru.Cache[string, ID]
}

// NewCanonicalizer returns a canonicalizer rooted at base. A size of zero
// selects DefaultCacheSize.
func NewCanonicalizer(base string, size int) (*Canonicalizer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		base = wd
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base %s: %w", base, err)
	}
	cache, err := lru.New[string, ID](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create path cache: %w", err)
	}
	seen, err := lru.New[string, ID](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create path cache: %w", err)
	}
	return &Canonicalizer{base: abs, cache: cache, seen: seen}, nil
}

// Base returns the absolute directory relative paths are resolved against.
func (c *Canonicalizer) Base() string { return c.base }

// Canonical returns the ID for path.
func (c *Canonicalizer) Canonical(path string) (ID, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(c.base, abs)
	}
	abs = filepath.Clean(abs)

	if id, ok := c.cache.Get(abs); ok {
		return id, nil
	}
	_, statErr := os.Lstat(abs)
	missing := errors.Is(statErr, fs.ErrNotExist)
	if missing {
		// A symlinked directory on the way may be gone as well.
		if id, ok := c.seen.Get(abs); ok {
			c.cache.Add(abs, id)
			return id, nil
		}
	}
	resolved, err := resolve(abs)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", path, err)
	}
	id := ID(resolved)
	c.cache.Add(abs, id)
	if !missing {
		c.seen.Add(abs, id)
	}
	return id, nil
}

// Reset drops the memoized resolutions of existing paths. Symlinks may
// change between revisions, so callers reset once per update cycle. The last
// known resolution of each path is kept for when it disappears.
func (c *Canonicalizer) Reset() { c.cache.Purge() }

// resolve evaluates symlinks in abs. A missing leaf is resolved through its
// parent directory and re-joined.
func resolve(abs string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	dir, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}
