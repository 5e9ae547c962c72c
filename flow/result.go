package flow

// ResultKind classifies what a step produced for the caller.
type ResultKind string

const (
	ResultMessage      ResultKind = "MESSAGE"
	ResultQuestion     ResultKind = "QUESTION"
	ResultMediaRequest ResultKind = "MEDIA_REQUEST"
	ResultMediaSend    ResultKind = "MEDIA_SEND"
	ResultAction       ResultKind = "ACTION"
	ResultHandoff      ResultKind = "HANDOFF"
	ResultError        ResultKind = "ERROR"
	ResultEnd          ResultKind = "END"
	ResultContinue     ResultKind = "CONTINUE"
	ResultParallel     ResultKind = "PARALLEL"
)

// Media describes media sent to or requested from the user.
type Media struct {
	Kind    string `json:"kind"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// ActionRequest is a typed side-effect request for the caller to execute
// (field updates, CRM moves, emails). The engine emits but never executes
// them, except for webhooks which it performs itself.
type ActionRequest struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Notification asks the caller to alert a team.
type Notification struct {
	Channel    string   `json:"channel"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients,omitempty"`
	Urgency    string   `json:"urgency,omitempty"`
}

// Handoff signals human takeover.
type Handoff struct {
	Reason     string `json:"reason"`
	Department string `json:"department,omitempty"`
}

// Qualification reports the outcome of a QUALIFICATION node.
type Qualification struct {
	Qualified bool `json:"qualified"`
	Score     int  `json:"score"`
}

// StepResult is what one inbound message produces: the reply, any
// collected field, side-effect requests, and the routing outcome.
type StepResult struct {
	ReplyText string     `json:"reply_text,omitempty"`
	Kind      ResultKind `json:"result_kind"`

	// NextNodeOverride bypasses slot-based navigation (PARALLEL uses it
	// to enter the first fan-out path).
	NextNodeOverride string `json:"next_node_override,omitempty"`

	// ShouldWait pauses the conversation until the next inbound message.
	ShouldWait bool `json:"should_wait,omitempty"`

	CollectedField  string `json:"collected_field,omitempty"`
	CollectedValue  *Value `json:"collected_value,omitempty"`
	ValidationError string `json:"validation_error,omitempty"`

	Media         *Media         `json:"media,omitempty"`
	Action        *ActionRequest `json:"action,omitempty"`
	Notification  *Notification  `json:"notification,omitempty"`
	Handoff       *Handoff       `json:"handoff,omitempty"`
	Qualification *Qualification `json:"qualification,omitempty"`
	Err           *StepError     `json:"error,omitempty"`

	ParallelExtraPaths []string `json:"parallel_extra_paths,omitempty"`
	ExecutionTimeMS    int64    `json:"execution_time_ms"`

	// Route is the navigator outcome decided by the handler.
	Route Outcome `json:"-"`
}

// terminal reports whether this result ends the conversation.
func (r *StepResult) terminal() bool {
	return r.Route.Kind == outcomeTerminal
}
