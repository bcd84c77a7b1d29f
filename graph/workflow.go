package graph

import "fmt"

// Position is the editor canvas location of a node. The engine ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// WorkflowNode is one node declaration of a workflow.
//
// Kind selects the registry entry and is serialized as "subtype" to stay
// compatible with the editor's document format. Type is the editor's coarse
// grouping ("special", "agent", "tool") and is not interpreted.
type WorkflowNode struct {
	ID       string    `json:"id" yaml:"id"`
	Kind     string    `json:"subtype" yaml:"subtype"`
	Type     string    `json:"type,omitempty" yaml:"type,omitempty"`
	Name     string    `json:"name,omitempty" yaml:"name,omitempty"`
	Config   Config    `json:"config,omitempty" yaml:"config,omitempty"`
	Position *Position `json:"position,omitempty" yaml:"position,omitempty"`
}

// DisplayName returns Name, falling back to ID.
func (n WorkflowNode) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Connection is a directed edge: Target consumes the result of Source.
type Connection struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Workflow is a user-authored DAG of nodes.
//
// Node declaration order is significant: it seeds the topological sort and
// decides which output-kind node receives a blocking result.
type Workflow struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string         `json:"name" yaml:"name"`
	Nodes       []WorkflowNode `json:"nodes" yaml:"nodes"`
	Connections []Connection   `json:"connections" yaml:"connections"`
	CreatedAt   string         `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt   string         `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Node returns the declaration for id.
func (w *Workflow) Node(id string) (WorkflowNode, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return WorkflowNode{}, false
}

// Validate checks the structural rules that do not need a registry: the
// workflow has nodes, IDs are present and unique, every connection endpoint
// exists and no connection is a self-loop. Cycles are found by the
// topological sort.
func (w *Workflow) Validate() error {
	if w == nil || len(w.Nodes) == 0 {
		return &EngineError{Message: "workflow has no nodes", Code: CodeEmptyWorkflow, Cause: ErrEmptyWorkflow}
	}

	seen := make(map[string]struct{}, len(w.Nodes))
	for i, n := range w.Nodes {
		if n.ID == "" {
			return &EngineError{
				Message: fmt.Sprintf("node at index %d has no id", i),
				Code:    CodeInvalidNode,
				Cause:   ErrInvalidNode,
			}
		}
		if n.Kind == "" {
			return &EngineError{
				Message: fmt.Sprintf("node %s has no subtype", n.ID),
				Code:    CodeInvalidNode,
				NodeID:  n.ID,
				Cause:   ErrInvalidNode,
			}
		}
		if _, dup := seen[n.ID]; dup {
			return &EngineError{
				Message: fmt.Sprintf("node id %s declared more than once", n.ID),
				Code:    CodeDuplicateNode,
				NodeID:  n.ID,
				Cause:   ErrDuplicateNode,
			}
		}
		seen[n.ID] = struct{}{}
	}

	for _, c := range w.Connections {
		if _, ok := seen[c.Source]; !ok {
			return &EngineError{
				Message: fmt.Sprintf("connection %s -> %s: unknown source %q", c.Source, c.Target, c.Source),
				Code:    CodeDanglingConnection,
				NodeID:  c.Source,
				Cause:   ErrDanglingConnection,
			}
		}
		if _, ok := seen[c.Target]; !ok {
			return &EngineError{
				Message: fmt.Sprintf("connection %s -> %s: unknown target %q", c.Source, c.Target, c.Target),
				Code:    CodeDanglingConnection,
				NodeID:  c.Target,
				Cause:   ErrDanglingConnection,
			}
		}
		if c.Source == c.Target {
			return &EngineError{
				Message: fmt.Sprintf("node %s is connected to itself", c.Source),
				Code:    CodeSelfLoop,
				NodeID:  c.Source,
				Cause:   ErrCycleDetected,
			}
		}
	}
	return nil
}
