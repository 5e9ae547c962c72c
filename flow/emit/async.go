package emit

import (
	"sync"

	"github.com/rs/zerolog"
)

// AsyncEmitter decouples event delivery from the chat path with a bounded
// in-memory queue and a single background worker.
//
// When the queue is full the oldest pending event is dropped to make room
// for the new one, so a stalled backend degrades analytics instead of
// conversations. Dropped events are counted and logged at debug level.
type AsyncEmitter struct {
	inner    Emitter
	log      zerolog.Logger
	capacity int

	mu      sync.Mutex
	queue   []Event
	notify  chan struct{}
	done    chan struct{}
	closed  bool
	dropped int64
}

// NewAsyncEmitter wraps inner with a queue of at most capacity pending
// events and starts the delivery worker. Capacity below 1 defaults to 1024.
func NewAsyncEmitter(inner Emitter, capacity int, log zerolog.Logger) *AsyncEmitter {
	if capacity < 1 {
		capacity = 1024
	}
	a := &AsyncEmitter{
		inner:    inner,
		log:      log,
		capacity: capacity,
		queue:    make([]Event, 0, capacity),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Emit enqueues the event and returns immediately. When the queue is at
// capacity the oldest pending event is discarded.
func (a *AsyncEmitter) Emit(event Event) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if len(a.queue) >= a.capacity {
		copy(a.queue, a.queue[1:])
		a.queue = a.queue[:len(a.queue)-1]
		a.dropped++
		a.log.Debug().Int64("dropped_total", a.dropped).Msg("analytics queue full, dropping oldest event")
	}
	a.queue = append(a.queue, event)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Dropped reports how many events have been discarded due to overflow.
func (a *AsyncEmitter) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close stops the worker after draining the pending queue. Emit calls
// after Close are discarded.
func (a *AsyncEmitter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
	<-a.done
}

func (a *AsyncEmitter) run() {
	defer close(a.done)

	for {
		a.mu.Lock()
		pending := a.queue
		a.queue = make([]Event, 0, a.capacity)
		closed := a.closed
		a.mu.Unlock()

		for _, ev := range pending {
			a.deliver(ev)
		}

		if closed {
			// One final drain in case Emit raced with Close.
			a.mu.Lock()
			pending = a.queue
			a.queue = nil
			a.mu.Unlock()
			for _, ev := range pending {
				a.deliver(ev)
			}
			return
		}

		<-a.notify
	}
}

func (a *AsyncEmitter) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("analytics sink panicked")
		}
	}()
	a.inner.Emit(ev)
}
