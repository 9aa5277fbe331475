package store

import (
	"context"
	"sync"
)

// MemoryStore keeps room state in process memory. Used for memory:// and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, roomID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[roomID]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

func (m *MemoryStore) Put(_ context.Context, roomID string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[roomID] = st
	return nil
}

func (m *MemoryStore) Close() error { return nil }
