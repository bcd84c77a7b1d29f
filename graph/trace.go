package graph

import "time"

// TraceEvent names a trace entry.
type TraceEvent string

const (
	TraceRunStarted   TraceEvent = "run_started"
	TraceNodeExecuted TraceEvent = "node_executed"
	TraceRunBlocked   TraceEvent = "run_blocked"
	TraceRunCompleted TraceEvent = "completed"
	TraceRunCancelled TraceEvent = "run_cancelled"
)

// TraceEntry is one line of a run's execution trace.
type TraceEntry struct {
	Event      TraceEvent    `json:"event"`
	NodeID     string        `json:"node_id,omitempty"`
	NodeName   string        `json:"node_name,omitempty"`
	Kind       string        `json:"subtype,omitempty"`
	Success    bool          `json:"success"`
	Blocked    bool          `json:"blocked,omitempty"`
	Error      string        `json:"error,omitempty"`
	Terminal   bool          `json:"terminal,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Trace is the ordered list of entries recorded for a run.
//
// It always begins with a TraceRunStarted entry and ends with exactly one of
// TraceRunCompleted, TraceRunBlocked or TraceRunCancelled. Node entries are
// ordered by topological position regardless of completion order, followed
// by the terminal output entry when a block was routed.
type Trace []TraceEntry

// Final returns the last entry.
func (t Trace) Final() TraceEntry {
	if len(t) == 0 {
		return TraceEntry{}
	}
	return t[len(t)-1]
}

// NodeIDs returns the node IDs of the node entries, in trace order.
func (t Trace) NodeIDs() []string {
	var ids []string
	for _, e := range t {
		if e.Event == TraceNodeExecuted {
			ids = append(ids, e.NodeID)
		}
	}
	return ids
}

func nodeEntry(n WorkflowNode, r Result, d time.Duration, at time.Time) TraceEntry {
	return TraceEntry{
		Event:      TraceNodeExecuted,
		NodeID:     n.ID,
		NodeName:   n.DisplayName(),
		Kind:       n.Kind,
		Success:    r.Success,
		Blocked:    r.Blocked,
		Error:      r.Error,
		Duration:   d,
		DurationMS: d.Milliseconds(),
		Timestamp:  at,
	}
}
