package emit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SQLEmitter appends events to an analytics_events table through any
// database/sql driver (the module ships SQLite and MySQL drivers).
//
// The table is append-only and keyed by (tenant_id, created_at); the
// engine never reads it back. Insert failures are logged and swallowed,
// matching the fire-and-forget contract. Wrap in an AsyncEmitter to keep
// inserts off the chat path entirely.
type SQLEmitter struct {
	db  *sql.DB
	log zerolog.Logger
}

const analyticsSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	id VARCHAR(36) PRIMARY KEY,
	tenant_id VARCHAR(64) NOT NULL,
	lead_id VARCHAR(64),
	conversation_id VARCHAR(64),
	event_type VARCHAR(64) NOT NULL,
	event_data TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analytics_tenant_created
	ON analytics_events (tenant_id, created_at);
`

// NewSQLEmitter creates the analytics table if needed and returns an
// emitter writing to db.
func NewSQLEmitter(db *sql.DB, log zerolog.Logger) (*SQLEmitter, error) {
	if _, err := db.ExecContext(context.Background(), analyticsSchema); err != nil {
		return nil, err
	}
	return &SQLEmitter{db: db, log: log}, nil
}

// Emit inserts one event row. Errors are logged, never returned.
func (s *SQLEmitter) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event.Data)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("analytics payload not serializable")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_events (id, tenant_id, lead_id, conversation_id, event_type, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.TenantID, nullable(event.LeadID), nullable(event.ConversationID),
		string(event.Type), string(payload), event.CreatedAt)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("analytics insert failed")
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
