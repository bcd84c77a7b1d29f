package emit

import "sync"

// BufferedEmitter stores events in memory, grouped by run.
//
// It backs the server's run event endpoint and the tests. Events are kept
// until Clear is called.
//
//	emitter := emit.NewBufferedEmitter()
//	engine, _ := graph.New(reg, graph.WithEmitter(emitter))
//	res, _ := engine.Run(ctx, wf)
//	errs := emitter.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{Msg: "node_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
	order  []string           // runIDs, first-seen order
}

// HistoryFilter selects events. Set fields are combined with AND.
type HistoryFilter struct {
	NodeID  string // empty = any node
	Msg     string // empty = any message
	MinStep *int   // nil = no lower bound
	MaxStep *int   // nil = no upper bound
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.events[event.RunID]; !ok {
		b.order = append(b.order, event.RunID)
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of the events of runID in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of runID matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Runs returns the run IDs seen so far, oldest first.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear removes the events of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		b.order = nil
		return
	}
	delete(b.events, runID)
	for i, id := range b.order {
		if id == runID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
