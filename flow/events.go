package flow

import "github.com/leadflowhq/leadflow/flow/emit"

// Event payload constructors. Each returns a partially filled emit.Event
// carrying the type and kind-specific data; the engine stamps identity
// and time on emission.

func conversationStartedEvent(graphID string) emit.Event {
	return emit.Event{Type: emit.ConversationStarted, Data: map[string]any{"graph_id": graphID}}
}

func conversationEndedEvent(status Status, score int) emit.Event {
	return emit.Event{Type: emit.ConversationEnded, Data: map[string]any{
		"status": string(status),
		"score":  score,
	}}
}

func messageReceivedEvent(length int) emit.Event {
	return emit.Event{Type: emit.MessageReceived, Data: map[string]any{"length": length}}
}

func messageSentEvent(kind ResultKind, length int) emit.Event {
	return emit.Event{Type: emit.MessageSent, Data: map[string]any{
		"result_kind": string(kind),
		"length":      length,
	}}
}

func nodeEnteredEvent(nodeID string, kind NodeKind) emit.Event {
	return emit.Event{Type: emit.NodeEntered, Data: map[string]any{
		"node_id": nodeID,
		"kind":    string(kind),
	}}
}

func nodeCompletedEvent(nodeID string, kind NodeKind, durationMS int64) emit.Event {
	return emit.Event{Type: emit.NodeCompleted, Data: map[string]any{
		"node_id":     nodeID,
		"kind":        string(kind),
		"duration_ms": durationMS,
	}}
}

// FieldCollectedEvent reports one successfully validated field.
func FieldCollectedEvent(field string, value any, attempts int) emit.Event {
	return emit.Event{Type: emit.FieldCollected, Data: map[string]any{
		"field":    field,
		"value":    value,
		"attempts": attempts,
	}}
}

// FieldRetryEvent reports one failed validation attempt.
func FieldRetryEvent(field, errorCode string, retries int) emit.Event {
	return emit.Event{Type: emit.FieldRetry, Data: map[string]any{
		"field":      field,
		"error_code": errorCode,
		"retries":    retries,
	}}
}

func conditionEvaluatedEvent(nodeID string, outcome bool) emit.Event {
	return emit.Event{Type: emit.ConditionEvaluated, Data: map[string]any{
		"node_id": nodeID,
		"outcome": outcome,
	}}
}

func switchBranchEvent(nodeID, field, matched string) emit.Event {
	return emit.Event{Type: emit.SwitchBranchTaken, Data: map[string]any{
		"node_id": nodeID,
		"field":   field,
		"case":    matched,
	}}
}

func leadScoredEvent(score, threshold int, qualified bool) emit.Event {
	return emit.Event{Type: emit.LeadScored, Data: map[string]any{
		"score":     score,
		"threshold": threshold,
		"qualified": qualified,
	}}
}

func qualifiedEvent(score int) emit.Event {
	return emit.Event{Type: emit.LeadQualified, Data: map[string]any{"score": score}}
}

func disqualifiedEvent(score int) emit.Event {
	return emit.Event{Type: emit.LeadDisqualified, Data: map[string]any{"score": score}}
}

func temperatureChangedEvent(from, to string) emit.Event {
	return emit.Event{Type: emit.TemperatureChanged, Data: map[string]any{
		"from": from,
		"to":   to,
	}}
}

func notificationEvent(nodeID, channel string) emit.Event {
	return emit.Event{Type: emit.NotificationTriggered, Data: map[string]any{
		"node_id": nodeID,
		"channel": channel,
	}}
}

func handoffEvent(reason, department string) emit.Event {
	return emit.Event{Type: emit.HandoffRequested, Data: map[string]any{
		"reason":     reason,
		"department": department,
	}}
}

func flowCompletedEvent(score int, qualified bool) emit.Event {
	return emit.Event{Type: emit.FlowCompleted, Data: map[string]any{
		"score":     score,
		"qualified": qualified,
	}}
}

func errorEvent(code, message string) emit.Event {
	return emit.Event{Type: emit.ErrorOccurred, Data: map[string]any{
		"code":    code,
		"message": message,
	}}
}
