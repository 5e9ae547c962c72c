package flow

import (
	"encoding/json"
	"sort"
	"time"
)

// SchemaVersion is the current context serialization version.
const SchemaVersion = "2.0"

// Status is the conversation lifecycle state. Serialized as lowercase
// snake-case strings.
type Status string

const (
	StatusNotStarted   Status = "not_started"
	StatusInProgress   Status = "in_progress"
	StatusWaitingInput Status = "waiting_input"
	StatusWaitingMedia Status = "waiting_media"
	StatusCompleted    Status = "completed"
	StatusHandoff      Status = "handoff"
	StatusError        Status = "error"
	StatusTimeout      Status = "timeout"
)

// Terminal reports whether no further steps are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusHandoff, StatusError, StatusTimeout:
		return true
	}
	return false
}

// NodeVisit records one node execution in the conversation history.
type NodeVisit struct {
	NodeID        string    `json:"node_id"`
	Kind          NodeKind  `json:"kind"`
	EnteredAt     time.Time `json:"entered_at"`
	UserInput     string    `json:"user_input,omitempty"`
	Response      string    `json:"response,omitempty"`
	DataCollected string    `json:"data_collected,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
}

// FieldStatus is the validation state of one collected field.
type FieldStatus string

const (
	FieldPending FieldStatus = "pending"
	FieldValid   FieldStatus = "valid"
	FieldInvalid FieldStatus = "invalid"
	FieldSkipped FieldStatus = "skipped"
)

// FieldValidation tracks validation attempts for one field.
type FieldValidation struct {
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	ValidatedAt *time.Time  `json:"validated_at,omitempty"`
	Status      FieldStatus `json:"status"`
}

// Context is the per-conversation state machine. It is exclusively owned
// by the active step (the engine serializes steps per conversation) and
// persisted by the store after each step.
type Context struct {
	SchemaVersion string

	ConversationID string
	LeadID         string
	TenantID       string
	GraphID        string

	CurrentNodeID  string
	PreviousNodeID string
	Status         Status

	Visits    []NodeVisit
	visitedID map[string]bool

	Collected        *Collected
	FieldValidations map[string]*FieldValidation

	RetryCount          int
	CurrentFieldRetries int

	StartedAt    time.Time
	LastActivity time.Time

	AwaitingInput     bool
	AwaitingMedia     bool
	ExpectedMediaKind string

	IsQualified        bool
	QualificationScore int

	Variables map[string]any
	Metadata  map[string]any
}

// NewContext creates a fresh context positioned at the graph's start
// node with status NOT_STARTED.
func NewContext(conversationID, leadID, tenantID, graphID, startNodeID string, now time.Time) *Context {
	return &Context{
		SchemaVersion:    SchemaVersion,
		ConversationID:   conversationID,
		LeadID:           leadID,
		TenantID:         tenantID,
		GraphID:          graphID,
		CurrentNodeID:    startNodeID,
		Status:           StatusNotStarted,
		Collected:        NewCollected(),
		FieldValidations: make(map[string]*FieldValidation),
		Variables:        make(map[string]any),
		Metadata:         make(map[string]any),
		visitedID:        make(map[string]bool),
		StartedAt:        now,
		LastActivity:     now,
	}
}

// Touch advances the activity clock. LastActivity never moves backwards.
func (c *Context) Touch(now time.Time) {
	if now.After(c.LastActivity) {
		c.LastActivity = now
	}
}

// IdleTime is the span since the last activity.
func (c *Context) IdleTime(now time.Time) time.Duration {
	return now.Sub(c.LastActivity)
}

// SessionDuration is the span since the conversation started.
func (c *Context) SessionDuration(now time.Time) time.Duration {
	return now.Sub(c.StartedAt)
}

// RecordVisit appends a visit and maintains the visited-ID set.
func (c *Context) RecordVisit(v NodeVisit) {
	c.Visits = append(c.Visits, v)
	if c.visitedID == nil {
		c.visitedID = make(map[string]bool)
	}
	c.visitedID[v.NodeID] = true
}

// Visited reports whether the node has ever been executed.
func (c *Context) Visited(nodeID string) bool {
	return c.visitedID[nodeID]
}

// VisitedNodeIDs returns the visited set as a sorted slice.
func (c *Context) VisitedNodeIDs() []string {
	out := make([]string, 0, len(c.visitedID))
	for id := range c.visitedID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// fieldValidation returns (creating if needed) the record for a field.
func (c *Context) fieldValidation(field string) *FieldValidation {
	if c.FieldValidations == nil {
		c.FieldValidations = make(map[string]*FieldValidation)
	}
	fv, ok := c.FieldValidations[field]
	if !ok {
		fv = &FieldValidation{Status: FieldPending}
		c.FieldValidations[field] = fv
	}
	return fv
}

// ComputeScore is the pure qualification score: the sum of weights for
// every weighted field holding a non-empty collected value.
func (c *Context) ComputeScore(weights map[string]int) int {
	total := 0
	for field, w := range weights {
		if c.Collected.Has(field) {
			total += w
		}
	}
	return total
}

// CheckQualified computes the score against a threshold without mutating
// the context.
func (c *Context) CheckQualified(weights map[string]int, threshold int) (bool, int) {
	s := c.ComputeScore(weights)
	return s >= threshold, s
}

// contextJSON is the stable wire shape of a Context (schema_version 2.0).
// Timestamps are ISO-8601, sets are sorted arrays, enums are lowercase
// snake-case. Unknown keys are ignored on load; missing keys take the
// zero defaults.
type contextJSON struct {
	SchemaVersion string `json:"schema_version"`

	ConversationID string `json:"conversation_id"`
	LeadID         string `json:"lead_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
	GraphID        string `json:"graph_id,omitempty"`

	CurrentNodeID  string `json:"current_node_id"`
	PreviousNodeID string `json:"previous_node_id,omitempty"`
	Status         Status `json:"status"`

	Visits         []NodeVisit `json:"visits"`
	VisitedNodeIDs []string    `json:"visited_node_ids"`

	CollectedData    *Collected                  `json:"collected_data"`
	FieldValidations map[string]*FieldValidation `json:"field_validations,omitempty"`

	RetryCount          int `json:"retry_count"`
	CurrentFieldRetries int `json:"current_field_retries"`

	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`

	AwaitingInput     bool   `json:"awaiting_input"`
	AwaitingMedia     bool   `json:"awaiting_media"`
	ExpectedMediaKind string `json:"expected_media_kind,omitempty"`

	IsQualified        bool `json:"is_qualified"`
	QualificationScore int  `json:"qualification_score"`

	Variables map[string]any `json:"variables,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON encodes the context in its stable wire shape.
func (c *Context) MarshalJSON() ([]byte, error) {
	visits := c.Visits
	if visits == nil {
		visits = []NodeVisit{}
	}
	collected := c.Collected
	if collected == nil {
		collected = NewCollected()
	}
	return json.Marshal(contextJSON{
		SchemaVersion:       c.SchemaVersion,
		ConversationID:      c.ConversationID,
		LeadID:              c.LeadID,
		TenantID:            c.TenantID,
		GraphID:             c.GraphID,
		CurrentNodeID:       c.CurrentNodeID,
		PreviousNodeID:      c.PreviousNodeID,
		Status:              c.Status,
		Visits:              visits,
		VisitedNodeIDs:      c.VisitedNodeIDs(),
		CollectedData:       collected,
		FieldValidations:    c.FieldValidations,
		RetryCount:          c.RetryCount,
		CurrentFieldRetries: c.CurrentFieldRetries,
		StartedAt:           c.StartedAt,
		LastActivity:        c.LastActivity,
		AwaitingInput:       c.AwaitingInput,
		AwaitingMedia:       c.AwaitingMedia,
		ExpectedMediaKind:   c.ExpectedMediaKind,
		IsQualified:         c.IsQualified,
		QualificationScore:  c.QualificationScore,
		Variables:           c.Variables,
		Metadata:            c.Metadata,
	})
}

// UnmarshalJSON decodes the stable wire shape, rebuilding the visited
// set from the visit history and applying defaults for missing keys.
func (c *Context) UnmarshalJSON(data []byte) error {
	var w contextJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	c.SchemaVersion = w.SchemaVersion
	if c.SchemaVersion == "" {
		c.SchemaVersion = SchemaVersion
	}
	c.ConversationID = w.ConversationID
	c.LeadID = w.LeadID
	c.TenantID = w.TenantID
	c.GraphID = w.GraphID
	c.CurrentNodeID = w.CurrentNodeID
	c.PreviousNodeID = w.PreviousNodeID
	c.Status = w.Status
	if c.Status == "" {
		c.Status = StatusNotStarted
	}
	c.Visits = w.Visits
	c.Collected = w.CollectedData
	if c.Collected == nil {
		c.Collected = NewCollected()
	}
	c.FieldValidations = w.FieldValidations
	if c.FieldValidations == nil {
		c.FieldValidations = make(map[string]*FieldValidation)
	}
	c.RetryCount = w.RetryCount
	c.CurrentFieldRetries = w.CurrentFieldRetries
	c.StartedAt = w.StartedAt
	c.LastActivity = w.LastActivity
	c.AwaitingInput = w.AwaitingInput
	c.AwaitingMedia = w.AwaitingMedia
	c.ExpectedMediaKind = w.ExpectedMediaKind
	c.IsQualified = w.IsQualified
	c.QualificationScore = w.QualificationScore
	c.Variables = w.Variables
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}
	c.Metadata = w.Metadata
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}

	// The visited set is derived state: rebuild it from visits so the
	// invariant visited == {v.node_id} holds regardless of the payload.
	c.visitedID = make(map[string]bool, len(c.Visits))
	for _, v := range c.Visits {
		c.visitedID[v.NodeID] = true
	}
	return nil
}
