package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists snapshots in a shared MySQL database, for
// deployments where several engine replicas serve the same tenants.
//
// DSN format follows go-sql-driver, e.g.
// "user:pass@tcp(localhost:3306)/leadflow?parseTime=true".
type MySQLStore[S any] struct {
	db *sql.DB
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS conversation_contexts (
	conversation_id VARCHAR(64) PRIMARY KEY,
	state JSON NOT NULL,
	updated_at TIMESTAMP NOT NULL
)
`

// NewMySQLStore connects and ensures the schema exists.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	if _, err := db.ExecContext(ctx, mysqlSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MySQLStore[S]{db: db}, nil
}

// DB exposes the underlying handle for the analytics SQL sink.
func (s *MySQLStore[S]) DB() *sql.DB { return s.db }

// Save upserts the snapshot.
func (s *MySQLStore[S]) Save(ctx context.Context, conversationID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_contexts (conversation_id, state, updated_at)
		 VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE state = VALUES(state), updated_at = VALUES(updated_at)`,
		conversationID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// Load retrieves the snapshot or ErrNotFound.
func (s *MySQLStore[S]) Load(ctx context.Context, conversationID string) (S, error) {
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

// Close releases the connection pool.
func (s *MySQLStore[S]) Close() error {
	return s.db.Close()
}
