package emit

// Event is an observability event emitted during a workflow run.
//
// Messages emitted by the engine:
//   - run_start, run_complete, run_blocked, run_cancelled: run level, Step 0
//   - node_start, node_end, node_error: node level
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the node's 1-based topological position. Zero for run-level
	// events.
	Step int

	// NodeID is empty for run-level events.
	NodeID string

	// Msg names the event.
	Msg string

	// Meta contains event-specific data. Common keys:
	//   - "subtype": node kind
	//   - "status": success, error, blocked, timeout
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": failure message
	Meta map[string]interface{}
}

// IsError reports whether the event carries an error message.
func (e Event) IsError() bool {
	s, ok := e.Meta["error"].(string)
	return ok && s != ""
}
