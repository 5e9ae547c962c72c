package emit

import "sync"

// BufferedEmitter stores events in memory, organized by conversation ID.
//
// Intended for tests and post-step inspection; everything stays in memory,
// so production deployments should prefer the SQL or log sinks.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // conversationID -> events
	all    []Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event. Safe for concurrent use.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ConversationID] = append(b.events[event.ConversationID], event)
	b.all = append(b.all, event)
}

// History returns a copy of the events recorded for one conversation, in
// emission order.
func (b *BufferedEmitter) History(conversationID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[conversationID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryByType filters one conversation's events by type.
func (b *BufferedEmitter) HistoryByType(conversationID string, typ Type) []Event {
	var out []Event
	for _, ev := range b.History(conversationID) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// All returns a copy of every recorded event across conversations.
func (b *BufferedEmitter) All() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, len(b.all))
	copy(out, b.all)
	return out
}

// Clear drops events for one conversation, or everything when
// conversationID is empty.
func (b *BufferedEmitter) Clear(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conversationID == "" {
		b.events = make(map[string][]Event)
		b.all = nil
		return
	}
	delete(b.events, conversationID)
}
