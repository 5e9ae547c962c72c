package flow

import (
	"sort"
	"strings"

	"github.com/leadflowhq/leadflow/flow/webhook"
)

// handleAction executes the configured action. Webhook actions run
// inline through the webhook client; everything else becomes a typed
// ActionRequest for the caller, since the engine owns no CRM, mailer, or
// messaging transport.
func handleAction(e *Engine, st *step) *StepResult {
	action := strings.ToLower(st.node.ConfigString("action", st.node.ConfigString("action_type", "")))
	payload := renderTemplateMap(st.node.ConfigMap("payload"), st.data())

	switch action {
	case "webhook":
		return callWebhook(e, st, Sequential(), Sequential())

	case "set_variable", "update_field":
		name := st.node.ConfigString("field", st.node.ConfigString("variable", ""))
		value := st.node.Config["value"]
		if s, ok := value.(string); ok {
			value = st.render(s)
		}
		if name != "" {
			if action == "update_field" {
				st.conv.Collected.Set(name, ValueOf(value))
			} else {
				st.conv.Variables[name] = value
			}
		}
		return &StepResult{
			Kind:   ResultAction,
			Action: &ActionRequest{Name: action, Payload: map[string]any{"field": name, "value": value}},
			Route:  Sequential(),
		}

	case "notify_team":
		res := handleNotification(e, st)
		res.Action = &ActionRequest{Name: action, Payload: payload}
		return res

	case "move_status", "tag_lead", "send_email", "send_sms":
		return &StepResult{
			Kind:      ResultAction,
			ReplyText: st.render(st.node.ConfigString("message", "")),
			Action:    &ActionRequest{Name: action, Payload: payload},
			Route:     Sequential(),
		}
	}

	// Unrecognized actions do not halt the flow.
	e.log.Warn().Str("node_id", st.node.ID).Str("action", action).Msg("unknown action, skipping")
	return &StepResult{
		Kind: ResultError,
		Err: &StepError{
			Message:     "unknown action: " + action,
			Code:        CodeActionError,
			Recoverable: true,
		},
		Route: Sequential(),
	}
}

// handleWebhook performs the node's HTTP call. When success branches are
// configured the result routes through them; otherwise the flow simply
// continues, carrying a recoverable error on failure.
func handleWebhook(e *Engine, st *step) *StepResult {
	onSuccess := Sequential()
	onFailure := Sequential()
	if st.node.OnTrue != "" || st.node.OnFalse != "" {
		onSuccess = TrueBranch()
		onFailure = FalseBranch()
	}
	return callWebhook(e, st, onSuccess, onFailure)
}

func callWebhook(e *Engine, st *step, onSuccess, onFailure Outcome) *StepResult {
	req := webhook.Request{
		URL:            st.node.ConfigString("url", ""),
		Method:         st.node.ConfigString("method", ""),
		Body:           renderTemplateMap(st.node.ConfigMap("body"), st.data()),
		TimeoutSeconds: st.node.ConfigInt("timeout_seconds", 0),
		RetryOnFail:    st.node.ConfigBool("retry_on_fail", false),
	}
	if headers := st.node.ConfigMap("headers"); headers != nil {
		req.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Headers[k] = s
			}
		}
	}

	res := e.webhooks.Call(st.ctx, req)
	e.metrics.webhookCall(res.Success)

	if field := st.node.ConfigString("response_field", ""); field != "" && res.Success {
		st.conv.Variables[field] = res.BodyExcerpt
	}

	out := &StepResult{
		Kind:      ResultAction,
		ReplyText: st.render(st.node.ConfigString("message", "")),
		Action: &ActionRequest{Name: "webhook", Payload: map[string]any{
			"url":         req.URL,
			"status_code": res.StatusCode,
			"success":     res.Success,
		}},
		Route: onSuccess,
	}
	if !res.Success {
		errMsg := res.Error
		if errMsg == "" {
			errMsg = "webhook call failed"
		}
		out.Err = &StepError{Message: errMsg, Code: CodeWebhookError, Recoverable: true}
		out.Route = onFailure
	}
	return out
}

// handleNotification asks the caller to alert a team. ALERT nodes
// default to high urgency.
func handleNotification(e *Engine, st *step) *StepResult {
	urgency := st.node.ConfigString("urgency", "")
	if urgency == "" && st.node.Kind == KindAlert {
		urgency = "high"
	}

	n := &Notification{
		Channel:    st.node.ConfigString("channel", ""),
		Message:    st.render(st.node.ConfigString("message", "")),
		Recipients: st.node.ConfigStrings("recipients"),
		Urgency:    urgency,
	}
	e.emitEvent(st.conv, notificationEvent(st.node.ID, n.Channel))

	return &StepResult{
		Kind:         ResultAction,
		Notification: n,
		Route:        Sequential(),
	}
}

// handleHandoff transfers the conversation to a human and terminates the
// flow.
func handleHandoff(e *Engine, st *step) *StepResult {
	h := &Handoff{
		Reason:     st.node.ConfigString("reason", "flow_handoff"),
		Department: st.node.ConfigString("department", ""),
	}
	e.emitEvent(st.conv, handoffEvent(h.Reason, h.Department))

	return &StepResult{
		Kind:      ResultHandoff,
		ReplyText: st.render(st.node.ConfigString("client_message", "")),
		Handoff:   h,
		Route:     Terminal(),
	}
}

// handleEngagement covers the sales-stage nodes (FOLLOWUP, PROPOSAL,
// NEGOTIATION, SCHEDULING, VISIT): a templated message plus a typed
// action naming the stage, optionally pausing for the user's reply.
// FOLLOWUP surfaces its schedule in the action payload; PROPOSAL and
// SCHEDULING additionally render their structured sections into the
// reply.
func handleEngagement(e *Engine, st *step) *StepResult {
	stage := strings.ToLower(string(st.node.Kind))
	payload := renderTemplateMap(st.node.ConfigMap("payload"), st.data())
	lift := func(keys ...string) {
		for _, k := range keys {
			if v, ok := st.node.Config[k]; ok {
				if payload == nil {
					payload = map[string]any{}
				}
				payload[k] = v
			}
		}
	}

	text := st.render(pickMessage(e, st.node))
	switch st.node.Kind {
	case KindFollowUp:
		lift("intervals", "messages", "max_followups")
	case KindProposal:
		lift("title", "values", "conditions", "validity")
		text = proposalText(st, text)
	case KindScheduling:
		lift("times")
		text = schedulingText(st, text)
	}

	res := &StepResult{
		Kind:      ResultAction,
		ReplyText: text,
		Action:    &ActionRequest{Name: stage, Payload: payload},
		Route:     Sequential(),
	}
	if st.node.ConfigBool("wait_for_response", false) {
		res.ShouldWait = true
		res.Route = Stay()
	}
	return res
}

// proposalText appends the proposal sections (title, values table,
// conditions, validity) below the base message.
func proposalText(st *step, base string) string {
	var b strings.Builder
	b.WriteString(base)

	if title := st.render(st.node.ConfigString("title", "")); title != "" {
		appendSection(&b, title)
	}
	if values := st.node.ConfigMap("values"); len(values) > 0 {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = "- " + k + ": " + st.render(displayString(values[k]))
		}
		appendSection(&b, strings.Join(lines, "\n"))
	}
	if conditions := st.node.ConfigStrings("conditions"); len(conditions) > 0 {
		lines := make([]string, len(conditions))
		for i, c := range conditions {
			lines[i] = "- " + st.render(c)
		}
		appendSection(&b, "Condições:\n"+strings.Join(lines, "\n"))
	}
	if validity := st.node.ConfigString("validity", ""); validity != "" {
		appendSection(&b, "Proposta válida até "+st.render(validity)+".")
	}
	return b.String()
}

// schedulingText appends the offered visit times below the base message.
func schedulingText(st *step, base string) string {
	times := st.node.ConfigStrings("times")
	if len(times) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	lines := make([]string, len(times))
	for i, t := range times {
		lines[i] = "- " + st.render(t)
	}
	appendSection(&b, "Horários disponíveis:\n"+strings.Join(lines, "\n"))
	return b.String()
}

func appendSection(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(s)
}
