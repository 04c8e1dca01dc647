package consent

import (
	"context"
	"sync/atomic"
)

// MemoryStore keeps consent in process memory. It does not survive restarts
// and is meant for tests and ephemeral runs.
type MemoryStore struct {
	enabled atomic.Bool
}

// NewMemoryStore creates a store with the given initial state
func NewMemoryStore(enabled bool) *MemoryStore {
	s := &MemoryStore{}
	s.enabled.Store(enabled)
	return s
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context) (bool, error) {
	return s.enabled.Load(), nil
}

// Save implements Store
func (s *MemoryStore) Save(ctx context.Context, enabled bool) error {
	s.enabled.Store(enabled)
	return nil
}
