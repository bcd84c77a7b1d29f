// Package emit provides observability sinks for workflow execution events.
package emit

// Emitter receives observability events from workflow execution.
//
// The engine emits from a single goroutine per run, but one Emitter may be
// shared by concurrent runs, so implementations must be thread-safe. Emit
// must not block for long and must not panic.
type Emitter interface {
	// Emit delivers one event to the backend.
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter returns an emitter that forwards to each non-nil emitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
