package flow

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadflowhq/leadflow/flow/emit"
	"github.com/leadflowhq/leadflow/flow/store"
	"github.com/leadflowhq/leadflow/flow/webhook"
)

// fakeClock is a manually advanced engine clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testRig struct {
	engine *Engine
	events *emit.BufferedEmitter
	clock  *fakeClock
	slept  []time.Duration
}

func newTestEngine(t *testing.T, doc string) *testRig {
	t.Helper()

	g, diags, err := Load([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if HasErrors(diags) {
		t.Fatalf("test graph has errors: %v", diags)
	}

	rig := &testRig{
		events: emit.NewBufferedEmitter(),
		clock:  newFakeClock(),
	}
	engine, err := New(g, Config{
		Contexts: store.NewMemStore[*Context](),
		Emitter:  rig.events,
		Logger:   zerolog.Nop(),
		Options: Options{
			Rand:  rand.New(rand.NewSource(1)),
			Now:   rig.clock.Now,
			Sleep: func(d time.Duration) { rig.slept = append(rig.slept, d) },
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	rig.engine = engine
	return rig
}

const greetingFlow = `{
	"name": "greeting-flow",
	"nodes": [
		{"id": "greeting", "type": "GREETING",
		 "config": {"message": "Olá! Bem-vindo à Imobiliária Sol."},
		 "next_node_id": "ask_name"},
		{"id": "ask_name", "type": "NAME", "next_node_id": "bye"},
		{"id": "bye", "type": "END", "config": {"message": "Obrigado, {name}!"}}
	],
	"start_node_id": "greeting"
}`

func TestProcessMessageGreetingThenPrompt(t *testing.T) {
	rig := newTestEngine(t, greetingFlow)
	ctx := context.Background()

	res, err := rig.engine.ProcessMessage(ctx, "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	// One inbound message runs the greeting and the question prompt.
	if !strings.Contains(res.ReplyText, "Imobiliária Sol") {
		t.Errorf("reply missing greeting: %q", res.ReplyText)
	}
	if !strings.Contains(res.ReplyText, "Qual é o seu nome?") {
		t.Errorf("reply missing name prompt: %q", res.ReplyText)
	}
	if !strings.Contains(res.ReplyText, "\n\n") {
		t.Errorf("multiple replies must be joined with a blank line: %q", res.ReplyText)
	}
	if res.Kind != ResultQuestion || !res.ShouldWait {
		t.Errorf("result = %s wait=%v, want QUESTION waiting", res.Kind, res.ShouldWait)
	}

	conv, err := rig.engine.Context(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != StatusWaitingInput {
		t.Errorf("status = %s, want %s", conv.Status, StatusWaitingInput)
	}
	if conv.CurrentNodeID != "ask_name" {
		t.Errorf("current node = %s, want ask_name", conv.CurrentNodeID)
	}
}

func TestProcessMessageCollectsNormalizedName(t *testing.T) {
	rig := newTestEngine(t, greetingFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	res, err := rig.engine.ProcessMessage(ctx, "c1", "joão silva")
	if err != nil {
		t.Fatal(err)
	}

	if res.CollectedField != "name" {
		t.Errorf("CollectedField = %q, want name", res.CollectedField)
	}
	if res.CollectedValue == nil || res.CollectedValue.Str != "Joao Silva" {
		t.Errorf("CollectedValue = %v, want normalized Joao Silva", res.CollectedValue)
	}
	if !strings.Contains(res.ReplyText, "Obrigado, Joao Silva!") {
		t.Errorf("farewell must template the collected name: %q", res.ReplyText)
	}
	if res.Kind != ResultEnd {
		t.Errorf("Kind = %s, want END", res.Kind)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	if conv.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", conv.Status, StatusCompleted)
	}
	if !conv.Visited("greeting") || !conv.Visited("ask_name") || !conv.Visited("bye") {
		t.Errorf("visited = %v", conv.VisitedNodeIDs())
	}
}

func TestProcessMessageEmptyInputReprompts(t *testing.T) {
	rig := newTestEngine(t, greetingFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	res, err := rig.engine.ProcessMessage(ctx, "c1", "   ")
	if err != nil {
		t.Fatal(err)
	}

	if res.Kind != ResultQuestion || !res.ShouldWait {
		t.Errorf("blank input must re-prompt, got %s", res.Kind)
	}
	conv, _ := rig.engine.Context(ctx, "c1")
	if conv.CurrentFieldRetries != 0 {
		t.Errorf("blank input must not consume a retry, got %d", conv.CurrentFieldRetries)
	}
}

const emailRetryFlow = `{
	"nodes": [
		{"id": "ask_email", "type": "EMAIL",
		 "config": {"max_retries": 2}, "next_node_id": "bye"},
		{"id": "bye", "type": "END"}
	],
	"start_node_id": "ask_email"
}`

func TestProcessMessageRetryThenHandoff(t *testing.T) {
	rig := newTestEngine(t, emailRetryFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}

	res, err := rig.engine.ProcessMessage(ctx, "c1", "not-an-email")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultQuestion || res.ValidationError == "" {
		t.Fatalf("first failure must re-ask with a validation error, got %+v", res)
	}
	if !strings.Contains(res.ReplyText, "e-mail válido") {
		t.Errorf("reply must carry the field error message: %q", res.ReplyText)
	}

	res, err = rig.engine.ProcessMessage(ctx, "c1", "still wrong")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultHandoff {
		t.Fatalf("retry cap must hand off, got %s", res.Kind)
	}
	if res.Handoff == nil || res.Handoff.Reason != "max_retries_exceeded" {
		t.Errorf("Handoff = %+v", res.Handoff)
	}
	if res.Err == nil || res.Err.Code != CodeMaxRetriesExceeded {
		t.Errorf("Err = %+v, want %s", res.Err, CodeMaxRetriesExceeded)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	if conv.Status != StatusHandoff {
		t.Errorf("status = %s, want %s", conv.Status, StatusHandoff)
	}
	if len(rig.events.HistoryByType("c1", emit.FieldRetry)) != 2 {
		t.Errorf("expected 2 field_retry events, got %d", len(rig.events.HistoryByType("c1", emit.FieldRetry)))
	}
}

const conditionFlow = `{
	"nodes": [
		{"id": "ask_budget", "type": "BUDGET", "next_node_id": "check"},
		{"id": "check", "type": "CONDITION",
		 "config": {"field": "budget", "operator": "greater_than", "value": 500000},
		 "true_node_id": "vip", "false_node_id": "standard"},
		{"id": "vip", "type": "END", "config": {"message": "Atendimento VIP"}},
		{"id": "standard", "type": "END", "config": {"message": "Atendimento padrão"}}
	],
	"start_node_id": "ask_budget"
}`

func TestProcessMessageConditionBranches(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"true branch", "R$ 800.000", "Atendimento VIP"},
		{"false branch", "R$ 200.000", "Atendimento padrão"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestEngine(t, conditionFlow)
			ctx := context.Background()

			if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
				t.Fatal(err)
			}
			res, err := rig.engine.ProcessMessage(ctx, "c1", tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(res.ReplyText, tt.want) {
				t.Errorf("reply = %q, want %q", res.ReplyText, tt.want)
			}
		})
	}
}

const loopFlow = `{
	"nodes": [
		{"id": "loop", "type": "LOOP", "config": {"max_iterations": 3},
		 "true_node_id": "body", "false_node_id": "done"},
		{"id": "body", "type": "MESSAGE", "config": {"message": "volta"},
		 "next_node_id": "loop"},
		{"id": "done", "type": "END", "config": {"message": "fim"}}
	],
	"start_node_id": "loop"
}`

func TestProcessMessageLoopBounded(t *testing.T) {
	rig := newTestEngine(t, loopFlow)
	ctx := context.Background()

	res, err := rig.engine.ProcessMessage(ctx, "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	// Three iterations through the body, then the exit branch.
	if got := strings.Count(res.ReplyText, "volta"); got != 3 {
		t.Errorf("body ran %d times, want 3 (%q)", got, res.ReplyText)
	}
	if !strings.Contains(res.ReplyText, "fim") {
		t.Errorf("reply missing exit message: %q", res.ReplyText)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	if conv.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", conv.Status, StatusCompleted)
	}
	if count := conv.Variables["_loop_loop_count"]; count != float64(4) && count != 4 {
		t.Errorf("loop counter = %v, want 4", count)
	}
}

const qualificationFlow = `{
	"global_config": {
		"qualification_weights": {"name": 40, "budget": 40},
		"qualification_threshold": 70
	},
	"nodes": [
		{"id": "ask_name", "type": "NAME", "next_node_id": "ask_budget"},
		{"id": "ask_budget", "type": "BUDGET", "next_node_id": "qualify"},
		{"id": "qualify", "type": "QUALIFICATION",
		 "true_node_id": "won", "false_node_id": "lost"},
		{"id": "won", "type": "HANDOFF",
		 "config": {"client_message": "Um corretor vai falar com você!", "reason": "qualified"}},
		{"id": "lost", "type": "END"}
	],
	"start_node_id": "ask_name"
}`

func TestProcessMessageQualificationHandoff(t *testing.T) {
	rig := newTestEngine(t, qualificationFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.engine.ProcessMessage(ctx, "c1", "Maria Souza"); err != nil {
		t.Fatal(err)
	}
	res, err := rig.engine.ProcessMessage(ctx, "c1", "R$ 900.000")
	if err != nil {
		t.Fatal(err)
	}

	// QUALIFICATION continues straight into the HANDOFF in one step.
	if res.Kind != ResultHandoff {
		t.Fatalf("Kind = %s, want HANDOFF", res.Kind)
	}
	if res.Qualification == nil || !res.Qualification.Qualified || res.Qualification.Score != 80 {
		t.Errorf("Qualification = %+v, want qualified with score 80", res.Qualification)
	}
	if res.Handoff == nil || res.Handoff.Reason != "qualified" {
		t.Errorf("Handoff = %+v", res.Handoff)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	if !conv.IsQualified || conv.QualificationScore != 80 {
		t.Errorf("context score = (%v, %d), want (true, 80)", conv.IsQualified, conv.QualificationScore)
	}
	if conv.Metadata["lead_temperature"] == nil {
		t.Error("qualification must record the detailed temperature")
	}
	if len(rig.events.HistoryByType("c1", emit.LeadQualified)) != 1 {
		t.Error("expected a lead_qualified event")
	}
}

const switchFlow = `{
	"nodes": [
		{"id": "ask", "type": "QUESTION",
		 "config": {"prompt": "Casa ou apartamento?", "field_name": "interest"},
		 "next_node_id": "route"},
		{"id": "route", "type": "SWITCH", "config": {"field": "interest"},
		 "case_node_ids": {"casa": "house", "apartamento": "flat"},
		 "next_node_id": "other"},
		{"id": "house", "type": "END", "config": {"message": "casas"}},
		{"id": "flat", "type": "END", "config": {"message": "apartamentos"}},
		{"id": "other", "type": "END", "config": {"message": "outros"}}
	],
	"start_node_id": "ask"
}`

func TestProcessMessageSwitchRouting(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"exact match", "casa", "casas"},
		{"case-insensitive", "CASA", "casas"},
		{"substring match", "quero um apartamento novo", "apartamentos"},
		{"default", "terreno", "outros"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestEngine(t, switchFlow)
			ctx := context.Background()

			if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
				t.Fatal(err)
			}
			res, err := rig.engine.ProcessMessage(ctx, "c1", tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(res.ReplyText, tt.want) {
				t.Errorf("reply = %q, want %q", res.ReplyText, tt.want)
			}
		})
	}
}

const parallelFlow = `{
	"nodes": [
		{"id": "fan", "type": "PARALLEL",
		 "config": {"wait_for_all": true, "merge_node_id": "second"},
		 "parallel_node_ids": ["first", "second"]},
		{"id": "first", "type": "END", "config": {"message": "caminho um"}},
		{"id": "second", "type": "END", "config": {"message": "caminho dois"}}
	],
	"start_node_id": "fan"
}`

func TestProcessMessageParallelFanOut(t *testing.T) {
	rig := newTestEngine(t, parallelFlow)
	ctx := context.Background()

	res, err := rig.engine.ProcessMessage(ctx, "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(res.ReplyText, "caminho um") {
		t.Errorf("must enter the first path, got %q", res.ReplyText)
	}
	if len(res.ParallelExtraPaths) != 1 || res.ParallelExtraPaths[0] != "second" {
		t.Errorf("ParallelExtraPaths = %v, want [second]", res.ParallelExtraPaths)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	meta, ok := conv.Metadata["_parallel_fan"].(map[string]any)
	if !ok {
		t.Fatalf("Metadata[_parallel_fan] = %T, want an object", conv.Metadata["_parallel_fan"])
	}
	if got := stringList(meta["remaining_paths"]); len(got) != 1 || got[0] != "second" {
		t.Errorf("remaining_paths = %v, want [second]", got)
	}
	if meta["wait_for_all"] != true {
		t.Errorf("wait_for_all = %v, want true", meta["wait_for_all"])
	}
	if meta["merge_node_id"] != "second" {
		t.Errorf("merge_node_id = %v, want second", meta["merge_node_id"])
	}
}

// stringList flattens []string or a JSON-decoded []any of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

const cycleFlow = `{
	"nodes": [
		{"id": "a", "type": "MESSAGE", "config": {"message": "a"}, "next_node_id": "b"},
		{"id": "b", "type": "MESSAGE", "config": {"message": "b"}, "next_node_id": "a"}
	],
	"start_node_id": "a"
}`

func TestProcessMessageStepCap(t *testing.T) {
	rig := newTestEngine(t, cycleFlow)
	rig.engine.opts.MaxSteps = 5
	ctx := context.Background()

	res, err := rig.engine.ProcessMessage(ctx, "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Err == nil || res.Err.Code != CodeMaxStepsExceeded {
		t.Fatalf("Err = %+v, want %s", res.Err, CodeMaxStepsExceeded)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	if conv.Status != StatusError {
		t.Errorf("status = %s, want %s", conv.Status, StatusError)
	}
}

func TestProcessMessageTerminalConversation(t *testing.T) {
	rig := newTestEngine(t, loopFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	res, err := rig.engine.ProcessMessage(ctx, "c1", "alô?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Err == nil || res.Err.Code != CodeFlowTerminal {
		t.Fatalf("Err = %+v, want %s", res.Err, CodeFlowTerminal)
	}
}

func TestProcessMessageSessionTimeout(t *testing.T) {
	rig := newTestEngine(t, greetingFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}

	rig.clock.Advance(31 * time.Minute)

	res, err := rig.engine.ProcessMessage(ctx, "c1", "voltei")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultEnd || !strings.Contains(res.ReplyText, "expirou") {
		t.Errorf("timeout must end with the stock message, got %s %q", res.Kind, res.ReplyText)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	if conv.Status != StatusTimeout {
		t.Errorf("status = %s, want %s", conv.Status, StatusTimeout)
	}
}

func TestProcessMessageConversationBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	doc := `{
		"nodes": [
			{"id": "wait", "type": "DELAY", "config": {"delay_ms": 50}, "next_node_id": "bye"},
			{"id": "bye", "type": "END"}
		],
		"start_node_id": "wait"
	}`
	rig := newTestEngine(t, doc)
	rig.engine.opts.Sleep = func(time.Duration) {
		close(entered)
		<-release
	}
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
			t.Error(err)
		}
	}()

	<-entered
	res, err := rig.engine.ProcessMessage(ctx, "c1", "de novo")
	if err != nil {
		t.Fatal(err)
	}
	if res.Err == nil || res.Err.Code != CodeConversationBusy {
		t.Errorf("Err = %+v, want %s", res.Err, CodeConversationBusy)
	}

	close(release)
	<-done
}

const unknownKindFlow = `{
	"nodes": [
		{"id": "mystery", "type": "HOLOGRAM", "config": {},
		 "next_node_id": "bye"},
		{"id": "bye", "type": "END", "config": {"message": "fim"}}
	],
	"start_node_id": "mystery"
}`

func TestProcessMessageUnknownKindSkipped(t *testing.T) {
	rig := newTestEngine(t, unknownKindFlow)
	ctx := context.Background()

	res, err := rig.engine.ProcessMessage(ctx, "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.ReplyText, "fim") {
		t.Errorf("unknown node must be skipped, got %q", res.ReplyText)
	}
	if res.Err == nil || res.Err.Code != CodeUnknownNodeKind || !res.Err.Recoverable {
		t.Errorf("Err = %+v, want recoverable %s", res.Err, CodeUnknownNodeKind)
	}
}

func TestProcessMessageWebhookNode(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	doc := `{
		"nodes": [
			{"id": "ask_name", "type": "NAME", "next_node_id": "push"},
			{"id": "push", "type": "WEBHOOK_CALL",
			 "config": {"url": "` + srv.URL + `", "body": {"lead": "{name}"}},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END", "config": {"message": "fim"}}
		],
		"start_node_id": "ask_name"
	}`

	g, diags, err := Load([]byte(doc))
	if err != nil || HasErrors(diags) {
		t.Fatalf("load: %v %v", err, diags)
	}
	engine, err := New(g, Config{
		Contexts: store.NewMemStore[*Context](),
		Webhooks: webhook.NewClient(srv.Client(), zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	res, err := engine.ProcessMessage(ctx, "c1", "Maria Souza")
	if err != nil {
		t.Fatal(err)
	}

	if res.Err != nil {
		t.Fatalf("webhook step failed: %+v", res.Err)
	}
	if !strings.Contains(gotBody, "Maria Souza") {
		t.Errorf("webhook body must be templated, got %q", gotBody)
	}
	if !strings.Contains(res.ReplyText, "fim") {
		t.Errorf("flow must continue after webhook, got %q", res.ReplyText)
	}
}

func TestEngineRefusesInvalidGraph(t *testing.T) {
	g, _, err := Load([]byte(`{
		"nodes": [{"id": "q", "type": "QUESTION", "config": {}}],
		"start_node_id": "q"
	}`))
	if err != nil {
		t.Fatal(err)
	}

	_, err = New(g, Config{Contexts: store.NewMemStore[*Context](), Logger: zerolog.Nop()})
	if err == nil {
		t.Fatal("engine must refuse a graph with ERROR diagnostics")
	}
	var gerr *GraphError
	if !errors.As(err, &gerr) {
		t.Fatalf("err = %T, want *GraphError", err)
	}
	if !HasErrors(gerr.Diagnostics) {
		t.Error("GraphError must carry the ERROR diagnostics")
	}
}

const loopConditionFlow = `{
	"nodes": [
		{"id": "loop", "type": "LOOP",
		 "config": {"max_iterations": 3, "loop_condition": "done == true"},
		 "true_node_id": "body", "false_node_id": "out"},
		{"id": "body", "type": "MESSAGE", "config": {"message": "volta"},
		 "next_node_id": "loop"},
		{"id": "out", "type": "END", "config": {"message": "fim"}}
	],
	"start_node_id": "loop"
}`

func TestProcessMessageLoopConditionFalseExits(t *testing.T) {
	rig := newTestEngine(t, loopConditionFlow)
	ctx := context.Background()

	res, err := rig.engine.ProcessMessage(ctx, "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	// No "done" field was ever collected, so the condition is false and
	// the body must never run, regardless of max_iterations.
	if strings.Contains(res.ReplyText, "volta") {
		t.Errorf("body ran with a false loop condition: %q", res.ReplyText)
	}
	if !strings.Contains(res.ReplyText, "fim") {
		t.Errorf("loop must exit through the false branch: %q", res.ReplyText)
	}
}

const minScoreFlow = `{
	"global_config": {
		"qualification_weights": {"name": 25, "budget": 20},
		"qualification_threshold": 70
	},
	"nodes": [
		{"id": "ask_name", "type": "NAME", "next_node_id": "ask_budget"},
		{"id": "ask_budget", "type": "BUDGET", "next_node_id": "qualify"},
		{"id": "qualify", "type": "QUALIFICATION", "config": {"min_score": 30},
		 "true_node_id": "won", "false_node_id": "lost"},
		{"id": "won", "type": "END", "config": {"message": "qualificado"}},
		{"id": "lost", "type": "END", "config": {"message": "ainda não"}}
	],
	"start_node_id": "ask_name"
}`

func TestProcessMessageQualificationMinScore(t *testing.T) {
	rig := newTestEngine(t, minScoreFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.engine.ProcessMessage(ctx, "c1", "Maria Souza"); err != nil {
		t.Fatal(err)
	}
	res, err := rig.engine.ProcessMessage(ctx, "c1", "R$ 900.000")
	if err != nil {
		t.Fatal(err)
	}

	// Score 45 clears the node's min_score of 30 even though it is far
	// below the global threshold of 70.
	if res.Qualification == nil || !res.Qualification.Qualified || res.Qualification.Score != 45 {
		t.Errorf("Qualification = %+v, want qualified with score 45", res.Qualification)
	}
	if !strings.Contains(res.ReplyText, "qualificado") {
		t.Errorf("must take the true branch: %q", res.ReplyText)
	}

	conv, _ := rig.engine.Context(ctx, "c1")
	breakdown, ok := conv.Metadata["score_breakdown"].(map[string]any)
	if !ok {
		t.Fatalf("Metadata[score_breakdown] = %T, want an object", conv.Metadata["score_breakdown"])
	}
	if len(breakdown) != 2 {
		t.Errorf("breakdown = %v, want both weighted fields", breakdown)
	}
}

const fieldsEvaluatedFlow = `{
	"global_config": {
		"qualification_weights": {"name": 25, "budget": 20}
	},
	"nodes": [
		{"id": "ask_name", "type": "NAME", "next_node_id": "ask_budget"},
		{"id": "ask_budget", "type": "BUDGET", "next_node_id": "qualify"},
		{"id": "qualify", "type": "QUALIFICATION",
		 "config": {"min_score": 30, "fields_evaluated": ["name"]},
		 "true_node_id": "won", "false_node_id": "lost"},
		{"id": "won", "type": "END", "config": {"message": "qualificado"}},
		{"id": "lost", "type": "END", "config": {"message": "ainda não"}}
	],
	"start_node_id": "ask_name"
}`

func TestProcessMessageQualificationFieldsEvaluated(t *testing.T) {
	rig := newTestEngine(t, fieldsEvaluatedFlow)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.engine.ProcessMessage(ctx, "c1", "Maria Souza"); err != nil {
		t.Fatal(err)
	}
	res, err := rig.engine.ProcessMessage(ctx, "c1", "R$ 900.000")
	if err != nil {
		t.Fatal(err)
	}

	// Only "name" counts: 25 points, short of min_score 30, even though
	// budget was collected and weighted.
	if res.Qualification == nil || res.Qualification.Qualified || res.Qualification.Score != 25 {
		t.Errorf("Qualification = %+v, want not qualified with score 25", res.Qualification)
	}
	if !strings.Contains(res.ReplyText, "ainda não") {
		t.Errorf("must take the false branch: %q", res.ReplyText)
	}
}

func TestProcessMessageDelaySeconds(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "wait", "type": "DELAY", "config": {"delay_seconds": 2},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END", "config": {"message": "fim"}}
		],
		"start_node_id": "wait"
	}`
	rig := newTestEngine(t, doc)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	if len(rig.slept) != 1 || rig.slept[0] != 2*time.Second {
		t.Errorf("slept = %v, want [2s]", rig.slept)
	}
}

func TestProcessMessageMediaSendAndRequest(t *testing.T) {
	t.Run("media_url sends", func(t *testing.T) {
		doc := `{
			"nodes": [
				{"id": "pic", "type": "IMAGE",
				 "config": {"media_url": "https://cdn.example.com/planta.png", "caption": "Planta do imóvel"},
				 "next_node_id": "bye"},
				{"id": "bye", "type": "END"}
			],
			"start_node_id": "pic"
		}`
		rig := newTestEngine(t, doc)

		res, err := rig.engine.ProcessMessage(context.Background(), "c1", "oi")
		if err != nil {
			t.Fatal(err)
		}
		if res.Media == nil || res.Media.URL != "https://cdn.example.com/planta.png" {
			t.Fatalf("Media = %+v, want the configured media_url", res.Media)
		}
		if res.Media.Kind != "image" || res.Media.Caption != "Planta do imóvel" {
			t.Errorf("Media = %+v", res.Media)
		}
	})

	t.Run("no media_url requests", func(t *testing.T) {
		doc := `{
			"nodes": [
				{"id": "doc", "type": "DOCUMENT",
				 "config": {"prompt": "Me envia o comprovante?", "field_name": "proof"},
				 "next_node_id": "bye"},
				{"id": "bye", "type": "END"}
			],
			"start_node_id": "doc"
		}`
		rig := newTestEngine(t, doc)
		ctx := context.Background()

		res, err := rig.engine.ProcessMessage(ctx, "c1", "oi")
		if err != nil {
			t.Fatal(err)
		}
		if res.Kind != ResultMediaRequest || !res.ShouldWait {
			t.Fatalf("got %s (wait=%v), want a waiting media request", res.Kind, res.ShouldWait)
		}

		conv, _ := rig.engine.Context(ctx, "c1")
		if conv.Status != StatusWaitingMedia || conv.ExpectedMediaKind != "document" {
			t.Errorf("context = (%s, %q), want waiting_media for a document", conv.Status, conv.ExpectedMediaKind)
		}
	})
}

func TestProcessMessageNotifyTeamAction(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "notify", "type": "ACTION",
			 "config": {"action": "notify_team", "channel": "slack",
			   "message": "Lead aguardando atendimento",
			   "recipients": ["vendas"], "urgency": "high"},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END"}
		],
		"start_node_id": "notify"
	}`
	rig := newTestEngine(t, doc)

	res, err := rig.engine.ProcessMessage(context.Background(), "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	n := res.Notification
	if n == nil {
		t.Fatal("notify_team must populate the notification slot")
	}
	if n.Channel != "slack" || n.Urgency != "high" {
		t.Errorf("Notification = %+v", n)
	}
	if len(n.Recipients) != 1 || n.Recipients[0] != "vendas" {
		t.Errorf("Recipients = %v, want [vendas]", n.Recipients)
	}
	if !strings.Contains(n.Message, "aguardando") {
		t.Errorf("Message = %q", n.Message)
	}
	if res.Action == nil || res.Action.Name != "notify_team" {
		t.Errorf("Action = %+v, want notify_team", res.Action)
	}
}

func TestProcessMessageFollowupPayload(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "fup", "type": "FOLLOWUP",
			 "config": {"message": "Vou te procurar de novo em breve.",
			   "intervals": [3600, 86400], "messages": ["Oi de novo!"],
			   "max_followups": 2},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END"}
		],
		"start_node_id": "fup"
	}`
	rig := newTestEngine(t, doc)

	res, err := rig.engine.ProcessMessage(context.Background(), "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	if res.Action == nil || res.Action.Name != "followup" {
		t.Fatalf("Action = %+v, want followup", res.Action)
	}
	p := res.Action.Payload
	if intervals, ok := p["intervals"].([]any); !ok || len(intervals) != 2 {
		t.Errorf("intervals = %v, want the 2 configured intervals", p["intervals"])
	}
	if msgs := stringList(p["messages"]); len(msgs) != 1 || msgs[0] != "Oi de novo!" {
		t.Errorf("messages = %v", p["messages"])
	}
	if p["max_followups"] != float64(2) {
		t.Errorf("max_followups = %v, want 2", p["max_followups"])
	}
}

func TestProcessMessageProposalSections(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "prop", "type": "PROPOSAL",
			 "config": {"message": "Segue nossa proposta:",
			   "title": "Apartamento Central",
			   "values": {"entrada": "R$ 50.000", "parcela": "R$ 2.300"},
			   "conditions": ["Financiamento em até 360 meses"],
			   "validity": "30/09/2026"},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END"}
		],
		"start_node_id": "prop"
	}`
	rig := newTestEngine(t, doc)

	res, err := rig.engine.ProcessMessage(context.Background(), "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"Apartamento Central",
		"- entrada: R$ 50.000",
		"- parcela: R$ 2.300",
		"Condições:",
		"- Financiamento em até 360 meses",
		"válida até 30/09/2026",
	} {
		if !strings.Contains(res.ReplyText, want) {
			t.Errorf("reply missing %q:\n%s", want, res.ReplyText)
		}
	}
	if res.Action == nil || res.Action.Payload["title"] != "Apartamento Central" {
		t.Errorf("Action = %+v, want the proposal fields in the payload", res.Action)
	}
}

func TestProcessMessageSchedulingTimes(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "sched", "type": "SCHEDULING",
			 "config": {"message": "Quando prefere visitar?",
			   "times": ["Sábado 10h", "Domingo 15h"]},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END"}
		],
		"start_node_id": "sched"
	}`
	rig := newTestEngine(t, doc)

	res, err := rig.engine.ProcessMessage(context.Background(), "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"Horários disponíveis:", "- Sábado 10h", "- Domingo 15h"} {
		if !strings.Contains(res.ReplyText, want) {
			t.Errorf("reply missing %q:\n%s", want, res.ReplyText)
		}
	}
	if res.Action == nil || res.Action.Name != "scheduling" {
		t.Errorf("Action = %+v", res.Action)
	}
}

func TestProcessMessageRetryHandoffDepartment(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "ask_email", "type": "EMAIL",
			 "config": {"max_retries": 1, "fallback_department": "atendimento"},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END"}
		],
		"start_node_id": "ask_email"
	}`
	rig := newTestEngine(t, doc)
	ctx := context.Background()

	if _, err := rig.engine.ProcessMessage(ctx, "c1", "oi"); err != nil {
		t.Fatal(err)
	}
	res, err := rig.engine.ProcessMessage(ctx, "c1", "not-an-email")
	if err != nil {
		t.Fatal(err)
	}

	if res.Kind != ResultHandoff {
		t.Fatalf("Kind = %s, want HANDOFF", res.Kind)
	}
	if res.Handoff == nil || res.Handoff.Department != "atendimento" {
		t.Errorf("Handoff = %+v, want the fallback department", res.Handoff)
	}
}

func TestProcessMessageSelectOptions(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "ask", "type": "QUESTION",
			 "config": {"prompt": "Qual tipo de imóvel?", "field_name": "interest",
			   "field_type": "select",
			   "options": ["Casa", "Apartamento", "Terreno"]},
			 "next_node_id": "bye"},
			{"id": "bye", "type": "END"}
		],
		"start_node_id": "ask"
	}`
	rig := newTestEngine(t, doc)

	res, err := rig.engine.ProcessMessage(context.Background(), "c1", "oi")
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"Qual tipo de imóvel?", "- Casa", "- Apartamento", "- Terreno"} {
		if !strings.Contains(res.ReplyText, want) {
			t.Errorf("prompt missing %q:\n%s", want, res.ReplyText)
		}
	}
	if !res.ShouldWait {
		t.Error("select question must wait for the answer")
	}
}
