package emit

import "github.com/rs/zerolog"

// LogEmitter writes each event as one structured zerolog line.
//
// Useful in development and as the default sink for the daemon when no
// database is configured.
//
// Example output:
//
//	{"level":"info","tenant_id":"t1","conversation_id":"c1",
//	 "event_type":"field_collected","field":"email","message":"analytics event"}
type LogEmitter struct {
	log zerolog.Logger
}

// NewLogEmitter creates a LogEmitter writing through the given logger.
func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

// Emit logs the event at info level with its payload flattened into
// structured fields.
func (l *LogEmitter) Emit(event Event) {
	ev := l.log.Info().
		Str("tenant_id", event.TenantID).
		Str("event_type", string(event.Type)).
		Time("created_at", event.CreatedAt)

	if event.ConversationID != "" {
		ev = ev.Str("conversation_id", event.ConversationID)
	}
	if event.LeadID != "" {
		ev = ev.Str("lead_id", event.LeadID)
	}
	if len(event.Data) > 0 {
		ev = ev.Interface("event_data", event.Data)
	}

	ev.Msg("analytics event")
}
