package graph

import "errors"

// Structural errors. They are detected before any node executes and are
// always returned wrapped in an *EngineError carrying a machine code.
var (
	// ErrEmptyWorkflow indicates a workflow with no nodes.
	ErrEmptyWorkflow = errors.New("workflow has no nodes")

	// ErrDanglingConnection indicates a connection whose source or target is
	// not a node of the workflow.
	ErrDanglingConnection = errors.New("connection references unknown node")

	// ErrCycleDetected indicates that no topological order exists. Self-loops
	// are reported with this error too.
	ErrCycleDetected = errors.New("cycle detected in workflow")

	// ErrUnknownNodeKind indicates a node kind the registry cannot resolve.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrDuplicateNode indicates two nodes sharing an ID.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrInvalidNode indicates a node without an ID or kind.
	ErrInvalidNode = errors.New("invalid node")
)

// ErrNodeTimeout is reported inside a node's Result when it exceeds the
// engine's per-node timeout. It never aborts a run.
var ErrNodeTimeout = errors.New("node exceeded timeout")

// Error codes carried by EngineError.
const (
	CodeEmptyWorkflow      = "EMPTY_WORKFLOW"
	CodeDanglingConnection = "DANGLING_CONNECTION"
	CodeCycleDetected      = "CYCLE_DETECTED"
	CodeSelfLoop           = "SELF_LOOP"
	CodeUnknownNodeKind    = "UNKNOWN_NODE_KIND"
	CodeDuplicateNode      = "DUPLICATE_NODE"
	CodeInvalidNode        = "INVALID_NODE"
	CodeInvalidOption      = "INVALID_OPTION"
)

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string

	// NodeID is set when the error concerns a specific node.
	NodeID string

	// Cause is the sentinel the error unwraps to.
	Cause error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying sentinel for errors.Is.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of e's code, so an invalid node whose Cause is a
// registry error still satisfies errors.Is(err, ErrInvalidNode).
func (e *EngineError) Is(target error) bool {
	return e.Code != "" && codeSentinels[e.Code] == target
}

var codeSentinels = map[string]error{
	CodeEmptyWorkflow:      ErrEmptyWorkflow,
	CodeDanglingConnection: ErrDanglingConnection,
	CodeCycleDetected:      ErrCycleDetected,
	CodeSelfLoop:           ErrCycleDetected,
	CodeUnknownNodeKind:    ErrUnknownNodeKind,
	CodeDuplicateNode:      ErrDuplicateNode,
	CodeInvalidNode:        ErrInvalidNode,
}

// IsStructural reports whether err is a pre-execution workflow-shape error.
func IsStructural(err error) bool {
	return errors.Is(err, ErrEmptyWorkflow) ||
		errors.Is(err, ErrDanglingConnection) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrUnknownNodeKind) ||
		errors.Is(err, ErrDuplicateNode) ||
		errors.Is(err, ErrInvalidNode)
}
