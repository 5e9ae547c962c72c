package emit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func ev(conversationID string, typ Type) Event {
	return Event{
		ConversationID: conversationID,
		Type:           typ,
		CreatedAt:      time.Now(),
	}
}

func TestBufferedEmitter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(ev("c1", ConversationStarted))
	b.Emit(ev("c1", FieldCollected))
	b.Emit(ev("c1", FieldCollected))
	b.Emit(ev("c2", ConversationStarted))

	if got := len(b.History("c1")); got != 3 {
		t.Errorf("History(c1) = %d events, want 3", got)
	}
	if got := len(b.HistoryByType("c1", FieldCollected)); got != 2 {
		t.Errorf("HistoryByType = %d, want 2", got)
	}
	if got := len(b.All()); got != 4 {
		t.Errorf("All = %d, want 4", got)
	}

	b.Clear("c1")
	if got := len(b.History("c1")); got != 0 {
		t.Errorf("History after Clear = %d, want 0", got)
	}
	if got := len(b.History("c2")); got != 1 {
		t.Errorf("Clear must not touch other conversations, got %d", got)
	}
}

// blockingEmitter stalls delivery until released, simulating a slow sink.
type blockingEmitter struct {
	entered chan struct{}
	release chan struct{}
	got     chan Event
}

func newBlockingEmitter() *blockingEmitter {
	return &blockingEmitter{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		got:     make(chan Event, 128),
	}
}

func (b *blockingEmitter) Emit(event Event) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	b.got <- event
}

func TestAsyncEmitterDeliversAll(t *testing.T) {
	inner := NewBufferedEmitter()
	a := NewAsyncEmitter(inner, 16, zerolog.Nop())

	for i := 0; i < 10; i++ {
		a.Emit(ev("c1", MessageSent))
	}
	a.Close()

	if got := len(inner.History("c1")); got != 10 {
		t.Errorf("delivered = %d, want 10", got)
	}
	if a.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", a.Dropped())
	}
}

func TestAsyncEmitterDropsOldest(t *testing.T) {
	inner := newBlockingEmitter()
	a := NewAsyncEmitter(inner, 4, zerolog.Nop())

	// First event reaches the sink and blocks the worker there.
	a.Emit(ev("c1", MessageSent))
	<-inner.entered

	// Six more with the worker stalled and capacity 4: two must go.
	for i := 0; i < 6; i++ {
		a.Emit(ev("c1", MessageSent))
	}
	if a.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", a.Dropped())
	}

	close(inner.release)
	a.Close()

	delivered := 0
	for {
		select {
		case <-inner.got:
			delivered++
			continue
		default:
		}
		break
	}
	if delivered != 5 {
		t.Errorf("delivered = %d, want 5 (1 in flight + 4 queued)", delivered)
	}
}

func TestAsyncEmitterSurvivesPanickingSink(t *testing.T) {
	panicky := emitterFunc(func(Event) { panic("boom") })
	a := NewAsyncEmitter(panicky, 4, zerolog.Nop())

	a.Emit(ev("c1", MessageSent))
	a.Close() // must not propagate the panic
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(event Event) { f(event) }

func TestAsyncEmitterAfterClose(t *testing.T) {
	inner := NewBufferedEmitter()
	a := NewAsyncEmitter(inner, 4, zerolog.Nop())
	a.Close()
	a.Emit(ev("c1", MessageSent))

	if got := len(inner.All()); got != 0 {
		t.Errorf("Emit after Close must be discarded, delivered %d", got)
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	a := NewBufferedEmitter()
	b := NewBufferedEmitter()
	m := NewMultiEmitter(a, b)

	m.Emit(ev("c1", HandoffRequested))

	if len(a.History("c1")) != 1 || len(b.History("c1")) != 1 {
		t.Error("every sink must receive the event")
	}
}
