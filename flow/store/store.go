// Package store persists conversation context snapshots between steps.
//
// The engine treats the store as a key/value map from conversation ID to
// the latest serialized context; history and analytics live elsewhere.
// Implementations ship for memory (tests), SQLite (single process),
// MySQL (shared database), and Redis (shared cache with TTL and
// cross-process conversation locks).
//
// Type parameter S is the context type to persist; it must round-trip
// through encoding/json.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for a conversation ID.
var ErrNotFound = errors.New("not found")

// Store saves and loads one snapshot per conversation.
type Store[S any] interface {
	// Save upserts the snapshot for a conversation.
	Save(ctx context.Context, conversationID string, state S) error

	// Load retrieves the latest snapshot for a conversation.
	// Returns ErrNotFound when the conversation has never been saved.
	Load(ctx context.Context, conversationID string) (S, error)
}

// Locker is optionally implemented by stores that can provide
// cross-process per-conversation mutual exclusion. The engine always
// holds an in-process lock; a store Locker extends the guarantee across
// replicas.
type Locker interface {
	// TryLock attempts to acquire the conversation lock without blocking.
	// The lock expires after ttl as a crash guard.
	TryLock(ctx context.Context, conversationID string, ttl time.Duration) (bool, error)

	// Unlock releases a lock acquired by TryLock.
	Unlock(ctx context.Context, conversationID string) error
}
