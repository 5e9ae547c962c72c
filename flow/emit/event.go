// Package emit delivers typed analytics events from the engine to a
// pluggable sink.
//
// Emission is fire-and-forget: a sink that is slow or unreachable must
// never block or fail the conversation step that produced the event.
// Emitters should therefore be non-blocking, thread-safe, and resilient;
// the AsyncEmitter wrapper provides those properties for any backend.
package emit

import "time"

// Type tags an analytics event. The set is closed; consumers dispatch on
// it and the engine never emits anything outside this list.
type Type string

const (
	ConversationStarted   Type = "conversation_started"
	ConversationEnded     Type = "conversation_ended"
	ConversationAbandoned Type = "conversation_abandoned"

	MessageReceived Type = "message_received"
	MessageSent     Type = "message_sent"
	MessageFailed   Type = "message_failed"

	FieldCollected        Type = "field_collected"
	FieldValidationFailed Type = "field_validation_failed"
	FieldRetry            Type = "field_retry"

	NodeEntered        Type = "node_entered"
	NodeCompleted      Type = "node_completed"
	ConditionEvaluated Type = "condition_evaluated"
	SwitchBranchTaken  Type = "switch_branch_taken"

	FlowCompleted Type = "flow_completed"
	FlowAbandoned Type = "flow_abandoned"

	LeadScored         Type = "lead_scored"
	LeadQualified      Type = "lead_qualified"
	LeadDisqualified   Type = "lead_disqualified"
	TemperatureChanged Type = "temperature_changed"

	NotificationTriggered Type = "notification_triggered"
	NotificationSent      Type = "notification_sent"
	NotificationFailed    Type = "notification_failed"

	HandoffRequested Type = "handoff_requested"
	HandoffCompleted Type = "handoff_completed"

	UserIntentDetected Type = "user_intent_detected"
	SentimentDetected  Type = "sentiment_detected"
	ErrorOccurred      Type = "error_occurred"
	RateLimited        Type = "rate_limited"
)

// Event is one analytics row. The engine appends events to the sink and
// never reads them back.
type Event struct {
	// ID uniquely identifies the event. Filled by sinks that need one
	// (SQL); may be empty elsewhere.
	ID string `json:"id,omitempty"`

	// TenantID scopes the event to the organization that owns the graph.
	TenantID string `json:"tenant_id"`

	// LeadID identifies the human counterpart, when known.
	LeadID string `json:"lead_id,omitempty"`

	// ConversationID ties the event to a dialogue instance.
	ConversationID string `json:"conversation_id,omitempty"`

	// Type selects the event kind from the closed set above.
	Type Type `json:"event_type"`

	// Data carries the kind-specific payload.
	Data map[string]any `json:"event_data"`

	// CreatedAt is the emission timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Emitter receives analytics events from the engine.
//
// Implementations must not panic and must not block the caller for any
// meaningful amount of time. Failures are swallowed or logged internally;
// the chat path never observes them.
type Emitter interface {
	Emit(event Event)
}
