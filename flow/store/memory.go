package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and single-process development.
//
// Snapshots are deep-copied through JSON on both save and load so callers
// never share mutable state with the store.
type MemStore[S any] struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	locks     map[string]time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		snapshots: make(map[string][]byte),
		locks:     make(map[string]time.Time),
	}
}

// Save serializes and stores the snapshot.
func (m *MemStore[S]) Save(_ context.Context, conversationID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[conversationID] = data
	return nil
}

// Load returns the stored snapshot or ErrNotFound.
func (m *MemStore[S]) Load(_ context.Context, conversationID string) (S, error) {
	var state S

	m.mu.RLock()
	data, ok := m.snapshots[conversationID]
	m.mu.RUnlock()

	if !ok {
		return state, ErrNotFound
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return state, nil
}

// TryLock implements Locker with expiring in-memory locks.
func (m *MemStore[S]) TryLock(_ context.Context, conversationID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, held := m.locks[conversationID]; held && time.Now().Before(expiry) {
		return false, nil
	}
	m.locks[conversationID] = time.Now().Add(ttl)
	return true, nil
}

// Unlock implements Locker.
func (m *MemStore[S]) Unlock(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, conversationID)
	return nil
}
