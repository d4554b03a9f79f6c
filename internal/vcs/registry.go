package vcs

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a History for a repository root.
// Backends register themselves with Register.
type Constructor func(root string) (History, error)

var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor. It is called from init()
// functions in backend packages (git, jj).
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, func(root string) (vcs.History, error) { return New(root) })
//	}
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}
	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}
	registry[t] = constructor
}

func constructorFor(t Type) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// RegisteredTypes returns the registered backend types, sorted.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Open detects the repository enclosing path and returns its history.
// Colocated repositories use PreferredVCS, falling back to the other
// backend when the preferred binary or constructor is missing.
func Open(path string) (History, error) {
	d, err := Detect(path)
	if err != nil {
		return nil, err
	}

	candidates := []Type{d.Type}
	if d.Type == TypeColocate {
		preferred := PreferredVCS()
		other := TypeGit
		if preferred == TypeGit {
			other = TypeJJ
		}
		candidates = []Type{preferred, other}
	}

	for _, t := range candidates {
		ctor := constructorFor(t)
		if ctor == nil || !IsAvailable(t) {
			continue
		}
		h, err := ctor(d.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s repository at %s: %w", t, d.Root, err)
		}
		return h, nil
	}
	return nil, fmt.Errorf("%w: no usable backend for %s repository at %s", ErrVCSNotAvailable, d.Type, d.Root)
}
