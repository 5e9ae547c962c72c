package emit

// MultiEmitter fans every event out to several sinks in order.
type MultiEmitter struct {
	sinks []Emitter
}

// NewMultiEmitter combines sinks into one Emitter. Nil entries are skipped.
func NewMultiEmitter(sinks ...Emitter) *MultiEmitter {
	out := make([]Emitter, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiEmitter{sinks: out}
}

// Emit forwards the event to each sink.
func (m *MultiEmitter) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}
