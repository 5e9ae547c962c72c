package flow

// Step error codes. These are part of the product contract: callers and
// analytics consumers dispatch on them.
const (
	CodeUnknownNodeKind    = "UNKNOWN_NODE_KIND"
	CodeActionError        = "ACTION_ERROR"
	CodeWebhookError       = "WEBHOOK_ERROR"
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	CodeConversationBusy   = "CONVERSATION_BUSY"
	CodeStepDeadline       = "STEP_DEADLINE"
	CodeFlowTerminal       = "FLOW_ALREADY_TERMINAL"
	CodeGraphValidation    = "GRAPH_VALIDATION_ERROR"
	CodeMaxStepsExceeded   = "MAX_STEPS_EXCEEDED"
	CodeStoreError         = "STORE_ERROR"
	CodeHandlerPanic       = "HANDLER_PANIC"
)

// StepError is the structured error carried on a StepResult.
//
// Recoverable errors leave the conversation alive: the caller may retry
// (CONVERSATION_BUSY, STEP_DEADLINE) or the flow simply continues
// (ACTION_ERROR). Non-recoverable errors terminate the conversation.
type StepError struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	Recoverable bool   `json:"recoverable"`
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// GraphError is returned when a graph carries ERROR-level diagnostics
// and the engine refuses to run it.
type GraphError struct {
	Diagnostics []Diagnostic
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			return CodeGraphValidation + ": " + d.Message
		}
	}
	return CodeGraphValidation
}
