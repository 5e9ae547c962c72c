package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists snapshots in Redis with an optional TTL, and
// implements Locker with SET NX PX so per-conversation serialization
// holds across engine replicas.
type RedisStore[S any] struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. ttl of zero keeps snapshots
// until the external retention policy removes them.
func NewRedisStore[S any](client *redis.Client, ttl time.Duration) *RedisStore[S] {
	return &RedisStore[S]{client: client, ttl: ttl}
}

func contextKey(conversationID string) string {
	return "leadflow:context:" + conversationID
}

func lockKey(conversationID string) string {
	return "leadflow:lock:" + conversationID
}

// Save serializes and stores the snapshot, refreshing the TTL.
func (r *RedisStore[S]) Save(ctx context.Context, conversationID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	if err := r.client.Set(ctx, contextKey(conversationID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// Load retrieves the snapshot or ErrNotFound.
func (r *RedisStore[S]) Load(ctx context.Context, conversationID string) (S, error) {
	var state S

	data, err := r.client.Get(ctx, contextKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, ErrNotFound
	}
	if err != nil {
		return state, fmt.Errorf("failed to load context: %w", err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return state, nil
}

// TryLock acquires the cross-process conversation lock.
func (r *RedisStore[S]) TryLock(ctx context.Context, conversationID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKey(conversationID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the conversation lock.
func (r *RedisStore[S]) Unlock(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, lockKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
