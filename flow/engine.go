package flow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadflowhq/leadflow/flow/emit"
	"github.com/leadflowhq/leadflow/flow/store"
	"github.com/leadflowhq/leadflow/flow/webhook"
)

// DefaultMaxSteps caps internal node traversals per inbound message, the
// guard against graphs that cycle without waiting for input.
const DefaultMaxSteps = 50

// DefaultLockTTL is the crash-guard expiry on cross-process conversation
// locks.
const DefaultLockTTL = time.Minute

// Options tunes engine behavior. The zero value is production-ready;
// tests override the clock, sleep, and randomness for determinism.
type Options struct {
	// MaxSteps bounds node traversals per inbound message. Zero means
	// DefaultMaxSteps.
	MaxSteps int

	// LockTTL is passed to the store's Locker. Zero means DefaultLockTTL.
	LockTTL time.Duration

	// Rand drives alternative-message selection. Nil seeds from the clock.
	Rand *rand.Rand

	// Now supplies the engine clock. Nil means time.Now.
	Now func() time.Time

	// Sleep implements DELAY nodes and delay_ms. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// Config wires the engine's collaborators.
type Config struct {
	Contexts store.Store[*Context]
	Emitter  emit.Emitter
	Webhooks *webhook.Client
	Metrics  *Metrics
	Logger   zerolog.Logger
	Options  Options
}

// Engine executes one conversation graph. It is safe for concurrent use;
// steps for the same conversation are serialized, steps for different
// conversations run in parallel.
type Engine struct {
	graph    *Graph
	contexts store.Store[*Context]
	emitter  emit.Emitter
	webhooks *webhook.Client
	metrics  *Metrics
	log      zerolog.Logger
	opts     Options

	mu   sync.Mutex
	busy map[string]bool
}

// New builds an engine for a validated graph. Graphs carrying
// ERROR-level diagnostics are refused with a GraphError.
func New(g *Graph, cfg Config) (*Engine, error) {
	if g == nil {
		return nil, errors.New("graph is required")
	}
	if diags := Validate(g); HasErrors(diags) {
		return nil, &GraphError{Diagnostics: diags}
	}
	if cfg.Contexts == nil {
		return nil, errors.New("context store is required")
	}

	e := &Engine{
		graph:    g,
		contexts: cfg.Contexts,
		emitter:  cfg.Emitter,
		webhooks: cfg.Webhooks,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		opts:     cfg.Options,
		busy:     make(map[string]bool),
	}
	if e.emitter == nil {
		e.emitter = emit.NewNullEmitter()
	}
	if e.webhooks == nil {
		e.webhooks = webhook.NewClient(nil, cfg.Logger)
	}
	if e.opts.MaxSteps <= 0 {
		e.opts.MaxSteps = DefaultMaxSteps
	}
	if e.opts.LockTTL <= 0 {
		e.opts.LockTTL = DefaultLockTTL
	}
	if e.opts.Rand == nil {
		e.opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.opts.Now == nil {
		e.opts.Now = time.Now
	}
	if e.opts.Sleep == nil {
		e.opts.Sleep = time.Sleep
	}
	return e, nil
}

// Graph returns the engine's graph.
func (e *Engine) Graph() *Graph { return e.graph }

func (e *Engine) now() time.Time        { return e.opts.Now() }
func (e *Engine) sleep(d time.Duration) { e.opts.Sleep(d) }

func (e *Engine) intn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.Rand.Intn(n)
}

// emitEvent stamps identity and time onto a payload and forwards it.
func (e *Engine) emitEvent(conv *Context, ev emit.Event) {
	ev.TenantID = conv.TenantID
	ev.LeadID = conv.LeadID
	ev.ConversationID = conv.ConversationID
	ev.CreatedAt = e.now()
	e.emitter.Emit(ev)
}

// StartConversation creates and persists a fresh context bound to a lead
// and tenant. ProcessMessage also creates contexts on demand; Start is
// for callers that know the identity up front.
func (e *Engine) StartConversation(ctx context.Context, conversationID, leadID, tenantID string) (*Context, error) {
	conv := NewContext(conversationID, leadID, tenantID, e.graph.Name, e.graph.StartNodeID, e.now())
	if err := e.contexts.Save(ctx, conversationID, conv); err != nil {
		return nil, fmt.Errorf("save context: %w", err)
	}
	e.emitEvent(conv, conversationStartedEvent(e.graph.Name))
	return conv, nil
}

// Context loads the persisted context for a conversation.
func (e *Engine) Context(ctx context.Context, conversationID string) (*Context, error) {
	return e.contexts.Load(ctx, conversationID)
}

// acquire serializes steps per conversation: an in-process flag always,
// plus the store's cross-process lock when the store provides one.
func (e *Engine) acquire(ctx context.Context, conversationID string) (func(), bool) {
	e.mu.Lock()
	if e.busy[conversationID] {
		e.mu.Unlock()
		return nil, false
	}
	e.busy[conversationID] = true
	e.mu.Unlock()

	releaseLocal := func() {
		e.mu.Lock()
		delete(e.busy, conversationID)
		e.mu.Unlock()
	}

	locker, ok := e.contexts.(store.Locker)
	if !ok {
		return releaseLocal, true
	}
	got, err := locker.TryLock(ctx, conversationID, e.opts.LockTTL)
	if err != nil {
		e.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("store lock failed, proceeding with local lock")
		return releaseLocal, true
	}
	if !got {
		releaseLocal()
		return nil, false
	}
	return func() {
		if err := locker.Unlock(ctx, conversationID); err != nil {
			e.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("store unlock failed")
		}
		releaseLocal()
	}, true
}

// ProcessMessage advances a conversation by one inbound message. The
// engine walks the graph from the current node, running every node it
// passes, until a node waits for input, the flow terminates, or the step
// cap is hit. The aggregated result carries everything the caller needs
// to reply.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, text string) (*StepResult, error) {
	release, ok := e.acquire(ctx, conversationID)
	if !ok {
		return &StepResult{
			Kind: ResultError,
			Err: &StepError{
				Message:     "a step for this conversation is already in flight",
				Code:        CodeConversationBusy,
				Recoverable: true,
			},
		}, nil
	}
	defer release()

	e.metrics.stepStarted()
	defer e.metrics.stepFinished()
	started := e.now()

	conv, err := e.contexts.Load(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		conv = NewContext(conversationID, "", "", e.graph.Name, e.graph.StartNodeID, started)
		e.emitEvent(conv, conversationStartedEvent(e.graph.Name))
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	if conv.Status.Terminal() {
		return &StepResult{
			Kind: ResultError,
			Err: &StepError{
				Message:     "conversation already ended with status " + string(conv.Status),
				Code:        CodeFlowTerminal,
				Recoverable: false,
			},
		}, nil
	}

	// Session expiry is checked before any node runs so a late message
	// gets the timeout farewell instead of resuming a stale dialogue.
	if conv.Status != StatusNotStarted &&
		conv.IdleTime(started) > time.Duration(e.graph.Global.SessionTimeoutSeconds)*time.Second {
		conv.Status = StatusTimeout
		conv.Touch(started)
		e.emitEvent(conv, conversationEndedEvent(StatusTimeout, conv.QualificationScore))
		if err := e.contexts.Save(ctx, conversationID, conv); err != nil {
			return nil, fmt.Errorf("save context: %w", err)
		}
		return &StepResult{
			Kind:            ResultEnd,
			ReplyText:       e.graph.Global.TimeoutMessage,
			ExecutionTimeMS: e.now().Sub(started).Milliseconds(),
		}, nil
	}

	e.emitEvent(conv, messageReceivedEvent(len(text)))
	conv.Touch(started)
	if conv.Status == StatusNotStarted || conv.Status == StatusWaitingInput || conv.Status == StatusWaitingMedia {
		conv.Status = StatusInProgress
	}

	result := e.walk(ctx, conv, text)

	conv.Touch(e.now())
	if err := e.contexts.Save(ctx, conversationID, conv); err != nil {
		return nil, fmt.Errorf("save context: %w", err)
	}

	result.ExecutionTimeMS = e.now().Sub(started).Milliseconds()
	e.metrics.stepDone(result.Kind, float64(result.ExecutionTimeMS)/1000)
	if result.ReplyText != "" {
		e.emitEvent(conv, messageSentEvent(result.Kind, len(result.ReplyText)))
	}
	return result, nil
}

// walk runs the continuation loop: execute the current node, route, and
// keep going until something waits or ends.
func (e *Engine) walk(ctx context.Context, conv *Context, text string) *StepResult {
	agg := &StepResult{Kind: ResultMessage}
	var replies []string
	input := text

	for steps := 0; ; steps++ {
		if steps >= e.opts.MaxSteps {
			conv.Status = StatusError
			agg.Kind = ResultError
			agg.Err = &StepError{
				Message: fmt.Sprintf("graph did not settle within %d steps", e.opts.MaxSteps),
				Code:    CodeMaxStepsExceeded,
			}
			e.emitEvent(conv, errorEvent(CodeMaxStepsExceeded, agg.Err.Message))
			break
		}
		if ctx.Err() != nil {
			agg.Kind = ResultError
			agg.Err = &StepError{
				Message:     "step deadline exceeded",
				Code:        CodeStepDeadline,
				Recoverable: true,
			}
			e.emitEvent(conv, errorEvent(CodeStepDeadline, ctx.Err().Error()))
			break
		}

		node, ok := e.graph.Node(conv.CurrentNodeID)
		if !ok {
			conv.Status = StatusError
			agg.Kind = ResultError
			agg.Err = &StepError{
				Message: "current node " + conv.CurrentNodeID + " does not exist",
				Code:    CodeGraphValidation,
			}
			break
		}

		nodeStart := e.now()
		e.emitEvent(conv, nodeEnteredEvent(node.ID, node.Kind))

		res := e.runNode(ctx, node, conv, input)
		durMS := e.now().Sub(nodeStart).Milliseconds()

		visit := NodeVisit{
			NodeID:     node.ID,
			Kind:       node.Kind,
			EnteredAt:  nodeStart,
			UserInput:  input,
			Response:   res.ReplyText,
			DurationMS: durMS,
		}
		if res.CollectedField != "" {
			visit.DataCollected = res.CollectedField
		}
		conv.RecordVisit(visit)
		e.emitEvent(conv, nodeCompletedEvent(node.ID, node.Kind, durMS))

		// Only the first handler sees the inbound text.
		input = ""

		mergeResult(agg, &replies, res)

		if res.Err != nil && !res.Err.Recoverable {
			conv.Status = terminalStatusFor(res)
			e.emitEvent(conv, errorEvent(res.Err.Code, res.Err.Message))
			e.emitEvent(conv, conversationEndedEvent(conv.Status, conv.QualificationScore))
			break
		}

		if res.terminal() {
			conv.Status = terminalStatusFor(res)
			if conv.Status == StatusCompleted {
				e.emitEvent(conv, flowCompletedEvent(conv.QualificationScore, conv.IsQualified))
			}
			e.emitEvent(conv, conversationEndedEvent(conv.Status, conv.QualificationScore))
			break
		}

		if res.ShouldWait {
			if conv.AwaitingMedia {
				conv.Status = StatusWaitingMedia
			} else {
				conv.Status = StatusWaitingInput
			}
			break
		}

		if res.NextNodeOverride != "" {
			conv.PreviousNodeID = node.ID
			conv.CurrentNodeID = res.NextNodeOverride
			continue
		}

		next, ok := NextNode(node, res.Route)
		if !ok {
			// No onward transition: the flow ends where it stands.
			conv.Status = StatusCompleted
			e.emitEvent(conv, flowCompletedEvent(conv.QualificationScore, conv.IsQualified))
			e.emitEvent(conv, conversationEndedEvent(StatusCompleted, conv.QualificationScore))
			break
		}
		conv.PreviousNodeID = node.ID
		conv.CurrentNodeID = next
	}

	agg.ReplyText = strings.Join(replies, "\n\n")
	return agg
}

// runNode dispatches one node with panic isolation: a panicking handler
// degrades to a recoverable error that leaves the conversation parked on
// the same node.
func (e *Engine) runNode(ctx context.Context, node *Node, conv *Context, input string) (res *StepResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("node_id", node.ID).
				Interface("panic", r).
				Msg("node handler panicked")
			res = &StepResult{
				Kind: ResultError,
				Err: &StepError{
					Message:     fmt.Sprintf("handler panic on node %s: %v", node.ID, r),
					Code:        CodeHandlerPanic,
					Recoverable: true,
				},
				ShouldWait: true,
				Route:      Stay(),
			}
		}
	}()

	return dispatch(e, &step{
		ctx:   ctx,
		graph: e.graph,
		node:  node,
		conv:  conv,
		input: input,
	})
}

// mergeResult folds one node result into the step aggregate: replies
// concatenate, scalar slots are last-wins, and the aggregate kind tracks
// the most recent meaningful kind.
func mergeResult(agg *StepResult, replies *[]string, res *StepResult) {
	if res.ReplyText != "" {
		*replies = append(*replies, res.ReplyText)
	}
	if res.Kind != ResultContinue {
		agg.Kind = res.Kind
	}
	agg.ShouldWait = res.ShouldWait
	if res.CollectedField != "" {
		agg.CollectedField = res.CollectedField
		agg.CollectedValue = res.CollectedValue
	}
	if res.ValidationError != "" {
		agg.ValidationError = res.ValidationError
	}
	if res.Media != nil {
		agg.Media = res.Media
	}
	if res.Action != nil {
		agg.Action = res.Action
	}
	if res.Notification != nil {
		agg.Notification = res.Notification
	}
	if res.Handoff != nil {
		agg.Handoff = res.Handoff
	}
	if res.Qualification != nil {
		agg.Qualification = res.Qualification
	}
	if res.Err != nil {
		agg.Err = res.Err
	}
	if len(res.ParallelExtraPaths) > 0 {
		agg.ParallelExtraPaths = res.ParallelExtraPaths
	}
}

// terminalStatusFor maps a terminating result to the final status.
func terminalStatusFor(res *StepResult) Status {
	switch {
	case res.Handoff != nil:
		return StatusHandoff
	case res.Err != nil && !res.Err.Recoverable:
		return StatusError
	default:
		return StatusCompleted
	}
}
