package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in a single-file database.
//
// Designed for development and single-process deployments: zero setup,
// WAL mode for concurrent reads, transactional upserts. Use ":memory:"
// for throwaway test databases.
type SQLiteStore[S any] struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_contexts (
	conversation_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// NewSQLiteStore opens (and if needed creates) the database at path.
//
// Example:
//
//	st, err := store.NewSQLiteStore[*flow.Context]("./leadflow.db")
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports a single writer; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore[S]{db: db}, nil
}

// DB exposes the underlying handle so the analytics SQL sink can share
// the same database file.
func (s *SQLiteStore[S]) DB() *sql.DB { return s.db }

// Save upserts the snapshot.
func (s *SQLiteStore[S]) Save(ctx context.Context, conversationID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_contexts (conversation_id, state, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		conversationID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// Load retrieves the snapshot or ErrNotFound.
func (s *SQLiteStore[S]) Load(ctx context.Context, conversationID string) (S, error) {
	var state S
	var data string

	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM conversation_contexts WHERE conversation_id = ?`,
		conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		return state, ErrNotFound
	}
	if err != nil {
		return state, fmt.Errorf("failed to load context: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return state, nil
}

// Close releases the database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}
