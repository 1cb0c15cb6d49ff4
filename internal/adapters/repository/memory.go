// Package repository holds the baseline store adapters.
package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/keyprint/internal/domain/baseline"
)

// MemoryStore keeps baselines in process memory. Values are deep-copied on
// the way in and out so callers never share maps or slices with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]baseline.Baseline
}

var _ baseline.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]baseline.Baseline)}
}

func (s *MemoryStore) Load(ctx context.Context, identity string) (baseline.Baseline, error) {
	if err := ctx.Err(); err != nil {
		return baseline.Baseline{}, err
	}
	s.mu.RLock()
	b, ok := s.items[identity]
	s.mu.RUnlock()
	if !ok {
		return baseline.Baseline{}, fmt.Errorf("identity %q: %w", identity, baseline.ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, b baseline.Baseline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Identity == "" {
		return baseline.ErrNoIdentity
	}
	s.mu.Lock()
	s.items[b.Identity] = b.Clone()
	s.mu.Unlock()
	return nil
}

// Delete removes the baseline of identity. Deleting a missing identity
// returns a wrapped baseline.ErrNotFound.
func (s *MemoryStore) Delete(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[identity]; !ok {
		return fmt.Errorf("identity %q: %w", identity, baseline.ErrNotFound)
	}
	delete(s.items, identity)
	return nil
}

// Count returns the number of stored baselines.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
