package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter mirrors analytics events into OpenTelemetry spans.
//
// Each event becomes a short-lived span named after its type, carrying the
// tenant/lead/conversation identifiers and the payload as attributes.
// Error events set the span status to Error.
//
// Usage:
//
//	tracer := otel.Tracer("leadflow")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit starts and immediately ends a span for the event. Events represent
// points in time, not durations.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Type))
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("tenant_id", event.TenantID),
		attribute.String("event_type", string(event.Type)),
	}
	if event.ConversationID != "" {
		attrs = append(attrs, attribute.String("conversation_id", event.ConversationID))
	}
	if event.LeadID != "" {
		attrs = append(attrs, attribute.String("lead_id", event.LeadID))
	}
	for key, value := range event.Data {
		attrs = append(attrs, anyAttribute("data."+key, value))
	}
	span.SetAttributes(attrs...)

	if event.Type == ErrorOccurred || event.Type == MessageFailed || event.Type == NotificationFailed {
		span.SetStatus(codes.Error, fmt.Sprint(event.Data["message"]))
	}
}

func anyAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	}
	return attribute.String(key, fmt.Sprint(value))
}
