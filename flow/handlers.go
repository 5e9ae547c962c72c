package flow

import (
	"context"
	"strings"
	"time"

	"github.com/leadflowhq/leadflow/flow/field"
)

// step carries everything a handler needs for one node execution within
// an inbound message.
type step struct {
	ctx   context.Context
	graph *Graph
	node  *Node
	conv  *Context

	// input is the inbound message text. Only the first input-consuming
	// handler of a step sees it; continuation nodes run with it blank.
	input string
}

// data merges variables and collected fields for templates and
// conditions. Collected fields win on key collision.
func (st *step) data() map[string]any {
	out := make(map[string]any, st.conv.Collected.Len()+len(st.conv.Variables))
	for k, v := range st.conv.Variables {
		out[k] = v
	}
	for k, v := range st.conv.Collected.Map() {
		out[k] = v
	}
	return out
}

// render templates a string against the merged step data.
func (st *step) render(template string) string {
	return RenderTemplate(template, st.data())
}

type handler func(e *Engine, st *step) *StepResult

// handlers is the dispatch table. Unknown kinds fall through to
// handleUnknown at dispatch time.
var handlers = map[NodeKind]handler{
	KindGreeting: handleUtterance,
	KindMessage:  handleUtterance,
	KindEnd:      handleEnd,

	KindQuestion:    handleInput,
	KindName:        handleInput,
	KindEmail:       handleInput,
	KindPhone:       handleInput,
	KindCity:        handleInput,
	KindAddress:     handleInput,
	KindTaxIDPerson: handleInput,
	KindBirthDate:   handleInput,
	KindInterest:    handleInput,
	KindBudget:      handleInput,
	KindUrgency:     handleInput,

	KindCondition:     handleCondition,
	KindSwitch:        handleSwitch,
	KindQualification: handleQualification,
	KindLoop:          handleLoop,
	KindParallel:      handleParallel,
	KindDelay:         handleDelay,

	KindAction:         handleAction,
	KindWebhookCall:    handleWebhook,
	KindAPIIntegration: handleWebhook,
	KindNotification:   handleNotification,
	KindAlert:          handleNotification,
	KindHandoff:        handleHandoff,
	KindFollowUp:       handleEngagement,
	KindProposal:       handleEngagement,
	KindNegotiation:    handleEngagement,
	KindScheduling:     handleEngagement,
	KindVisit:          handleEngagement,

	KindImage:    handleMedia,
	KindDocument: handleMedia,
	KindAudio:    handleMedia,
	KindVideo:    handleMedia,
}

func dispatch(e *Engine, st *step) *StepResult {
	h, ok := handlers[st.node.Kind]
	if !ok {
		return handleUnknown(e, st)
	}
	return h(e, st)
}

// pickMessage selects the node's reply text. When alternatives are
// configured one of message+alternatives is chosen at random so repeated
// visits do not sound canned.
func pickMessage(e *Engine, n *Node) string {
	msg := n.ConfigString("message", "")
	alts := n.ConfigStrings("alternatives")
	if len(alts) == 0 {
		return msg
	}
	pool := alts
	if msg != "" {
		pool = append([]string{msg}, alts...)
	}
	return pool[e.intn(len(pool))]
}

// handleUtterance sends a statement and moves on. GREETING and MESSAGE
// share it; MESSAGE may additionally pause for a reply.
func handleUtterance(e *Engine, st *step) *StepResult {
	if ms := st.node.ConfigInt("delay_ms", 0); ms > 0 {
		e.sleep(time.Duration(ms) * time.Millisecond)
	}

	res := &StepResult{
		Kind:      ResultMessage,
		ReplyText: st.render(pickMessage(e, st.node)),
		Route:     Sequential(),
	}
	if st.node.ConfigBool("wait_for_response", false) {
		res.ShouldWait = true
		res.Route = Stay()
	}
	return res
}

// handleEnd closes the conversation with the farewell.
func handleEnd(e *Engine, st *step) *StepResult {
	msg := pickMessage(e, st.node)
	if msg == "" {
		msg = st.graph.Global.FarewellMessage
	}
	return &StepResult{
		Kind:      ResultEnd,
		ReplyText: st.render(msg),
		Route:     Terminal(),
	}
}

// inputSpec resolves what an input node collects: field name, validator
// kind, and prompt. QUESTION configures all three; typed kinds carry
// presets that config can override.
func inputSpec(n *Node) (fieldName string, kind field.Kind, prompt string) {
	d, typed := inputDefaults[n.Kind]
	if typed {
		fieldName = n.ConfigString("field_name", d.Field)
		kind = field.Kind(n.ConfigString("field_type", d.FieldKind))
		prompt = n.ConfigString("prompt", d.Prompt)
		return
	}
	fieldName = n.ConfigString("field_name", "")
	kind = field.Kind(strings.ToLower(n.ConfigString("field_type", string(field.KindText))))
	prompt = n.ConfigString("prompt", "")
	return
}

// handleInput is the two-phase question handler. Without pending input it
// asks and waits; with input it validates, stores or retries, and at the
// retry cap hands the conversation to a human.
func handleInput(e *Engine, st *step) *StepResult {
	fieldName, kind, prompt := inputSpec(st.node)

	if !st.conv.AwaitingInput || strings.TrimSpace(st.input) == "" {
		st.conv.AwaitingInput = true
		reply := st.render(prompt)
		if kind == field.KindSelect {
			for _, opt := range st.node.ConfigStrings("options") {
				reply += "\n- " + opt
			}
		}
		return &StepResult{
			Kind:       ResultQuestion,
			ReplyText:  reply,
			ShouldWait: true,
			Route:      Stay(),
		}
	}

	res := field.Validate(kind, st.input, true)
	fv := st.conv.fieldValidation(fieldName)
	fv.Attempts++

	if res.IsValid {
		value := ValueOf(res.Cleaned)
		st.conv.Collected.Set(fieldName, value)
		now := e.now()
		fv.Status = FieldValid
		fv.LastError = ""
		fv.ValidatedAt = &now
		st.conv.AwaitingInput = false
		st.conv.CurrentFieldRetries = 0

		e.emitEvent(st.conv, FieldCollectedEvent(fieldName, value.Any(), fv.Attempts))
		return &StepResult{
			Kind:           ResultContinue,
			CollectedField: fieldName,
			CollectedValue: &value,
			Route:          Sequential(),
		}
	}

	fv.Status = FieldInvalid
	fv.LastError = res.ErrorCode
	st.conv.CurrentFieldRetries++
	st.conv.RetryCount++
	e.metrics.validationFailure(string(kind), res.ErrorCode)
	e.emitEvent(st.conv, FieldRetryEvent(fieldName, res.ErrorCode, st.conv.CurrentFieldRetries))

	maxRetries := st.node.ConfigInt("max_retries", st.graph.Global.MaxRetries)
	if st.conv.CurrentFieldRetries >= maxRetries {
		fv.Status = FieldSkipped
		return &StepResult{
			Kind:      ResultHandoff,
			ReplyText: st.graph.Global.ValidationErrorMessage,
			Handoff: &Handoff{
				Reason:     "max_retries_exceeded",
				Department: st.node.ConfigString("fallback_department", ""),
			},
			Err: &StepError{
				Message: "validation retries exhausted for field " + fieldName,
				Code:    CodeMaxRetriesExceeded,
			},
			Route: Terminal(),
		}
	}

	errMsg := res.ErrorMessage
	if errMsg == "" {
		errMsg = st.graph.Global.ValidationErrorMessage
	}
	return &StepResult{
		Kind:            ResultQuestion,
		ReplyText:       errMsg + "\n\n" + st.render(prompt),
		ValidationError: res.ErrorCode,
		ShouldWait:      true,
		Route:           Stay(),
	}
}

// handleMedia either sends media to the user or requests it from them:
// a configured media_url means send, no URL means request.
func handleMedia(e *Engine, st *step) *StepResult {
	mediaKind := strings.ToLower(string(st.node.Kind))
	mediaURL := st.node.ConfigString("media_url", st.node.ConfigString("url", ""))

	if mediaURL != "" {
		return &StepResult{
			Kind:      ResultMediaSend,
			ReplyText: st.render(st.node.ConfigString("caption", "")),
			Media: &Media{
				Kind:    mediaKind,
				URL:     mediaURL,
				Caption: st.render(st.node.ConfigString("caption", "")),
			},
			Route: Sequential(),
		}
	}

	// Request mode waits for the next inbound message and records its
	// text (a transport-level media reference) under field_name.
	if !st.conv.AwaitingMedia || strings.TrimSpace(st.input) == "" {
		st.conv.AwaitingMedia = true
		st.conv.ExpectedMediaKind = mediaKind
		return &StepResult{
			Kind:       ResultMediaRequest,
			ReplyText:  st.render(st.node.ConfigString("prompt", "Pode me enviar o arquivo?")),
			Media:      &Media{Kind: mediaKind},
			ShouldWait: true,
			Route:      Stay(),
		}
	}

	st.conv.AwaitingMedia = false
	st.conv.ExpectedMediaKind = ""
	if fieldName := st.node.ConfigString("field_name", ""); fieldName != "" {
		st.conv.Collected.Set(fieldName, StringValue(strings.TrimSpace(st.input)))
	}
	return &StepResult{Kind: ResultContinue, Route: Sequential()}
}

// handleUnknown tolerates node kinds outside the closed set: the node is
// skipped with a recoverable error so graphs survive forward-compatible
// additions.
func handleUnknown(e *Engine, st *step) *StepResult {
	e.log.Warn().
		Str("node_id", st.node.ID).
		Str("kind", string(st.node.Kind)).
		Msg("unknown node kind, skipping")
	return &StepResult{
		Kind: ResultError,
		Err: &StepError{
			Message:     "unknown node kind: " + string(st.node.Kind),
			Code:        CodeUnknownNodeKind,
			Recoverable: true,
		},
		Route: Sequential(),
	}
}
