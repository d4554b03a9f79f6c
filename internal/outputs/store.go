// Package outputs tracks the derived outputs each declared unit is expected
// to produce and the stores that hold them.
package outputs

import (
	"context"
	"sort"
	"sync"
)

// ID identifies a derived output within a store. IDs are slash separated
// relative paths such as "a/b/Outer$Inner.out".
type ID string

// Store is the backing store of derived outputs.
type Store interface {
	Exists(ctx context.Context, id ID) (bool, error)
	Delete(ctx context.Context, id ID) error
}

// Writer is a store that builders can write outputs to.
type Writer interface {
	Store
	Put(ctx context.Context, id ID, data []byte) error
}

// Lister is implemented by stores that can enumerate their contents.
type Lister interface {
	List(ctx context.Context) ([]ID, error)
}

// MemStore is an in-memory Writer.
type MemStore struct {
	mu   sync.RWMutex
	data map[ID][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[ID][]byte)}
}

func (s *MemStore) Exists(ctx context.Context, id ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[id]
	return ok, nil
}

func (s *MemStore) Delete(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *MemStore) Put(ctx context.Context, id ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = append([]byte(nil), data...)
	return nil
}

// Get returns the stored bytes for id.
func (s *MemStore) Get(id ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[id]
	return b, ok
}

func (s *MemStore) List(ctx context.Context) ([]ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ID, 0, len(s.data))
	for id := range s.data {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Len returns the number of stored outputs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
