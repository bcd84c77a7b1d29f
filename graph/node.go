// Package graph provides the workflow execution engine for agentflow.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/agentflow/internal/xjson"
)

// Node represents a processing unit in the workflow graph.
//
// Every step of a workflow (input, LLM agent, tool, output) implements this
// single capability. Implementations must:
//   - Never panic past Execute; internal failures become Fail results
//   - Treat cfg and parents as read-only
//   - Tolerate an empty Parents value and predecessors missing from it
//   - Respect ctx cancellation for latency-bound work
//
// A node signals that the workflow must stop by returning a result with
// Blocked set (see Block).
type Node interface {
	// Execute runs the node with its own configuration and the results of
	// its direct predecessors, and returns the node's result.
	Execute(ctx context.Context, cfg Config, parents Parents) Result
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	echo := NodeFunc(func(ctx context.Context, cfg Config, parents Parents) Result {
//	    return Succeed(ParentData(parents))
//	})
type NodeFunc func(ctx context.Context, cfg Config, parents Parents) Result

// Execute implements the Node interface for NodeFunc.
func (f NodeFunc) Execute(ctx context.Context, cfg Config, parents Parents) Result {
	return f(ctx, cfg, parents)
}

// Result is the outcome of a single node execution.
//
// Results are produced once per node per run and are never modified after
// the engine stores them. Meta carries node-specific extras (tool used,
// input type, result counts) and is never interpreted by the engine.
type Result struct {
	// Success is the discriminant for normal completion.
	Success bool `json:"success" yaml:"success"`

	// Data is the node's output payload, absent (nil) on most failures.
	Data any `json:"data,omitempty" yaml:"data,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Blocked halts the workflow after this node regardless of Success.
	Blocked bool `json:"blocked,omitempty" yaml:"blocked,omitempty"`

	// Meta holds free-form node-specific fields.
	Meta map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Succeed returns a successful result carrying data.
func Succeed(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail returns a failed result with the given message.
func Fail(message string) Result {
	return Result{Success: false, Error: message}
}

// Failf returns a failed result with a formatted message.
func Failf(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Block returns the canonical policy-block result: unsuccessful, blocked,
// with data describing the decision.
func Block(data any) Result {
	return Result{Success: false, Blocked: true, Data: data}
}

// WithMeta returns a copy of r with key set in its metadata.
func (r Result) WithMeta(key string, value any) Result {
	meta := make(map[string]any, len(r.Meta)+1)
	for k, v := range r.Meta {
		meta[k] = v
	}
	meta[key] = value
	r.Meta = meta
	return r
}

// Text renders Data as text. Strings are returned as-is, nil becomes the
// empty string and structured values are encoded as JSON.
func (r Result) Text() string {
	switch v := r.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case int, int64, float64, bool:
		return fmt.Sprint(v)
	}
	data, err := xjson.Marshal(r.Data)
	if err != nil {
		return fmt.Sprint(r.Data)
	}
	return string(data)
}

// clone copies the metadata map so callers cannot reach the stored result.
func (r Result) clone() Result {
	if r.Meta == nil {
		return r
	}
	meta := make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		meta[k] = v
	}
	r.Meta = meta
	return r
}

// Parent pairs a predecessor node ID with its stored result.
type Parent struct {
	NodeID string
	Result Result
}

// Parents is the ordered set of direct-predecessor results handed to a node.
// Order follows the declaration order of the incoming connections.
type Parents []Parent

// Get looks up the result of a predecessor by node ID.
func (p Parents) Get(nodeID string) (Result, bool) {
	for _, parent := range p {
		if parent.NodeID == nodeID {
			return parent.Result, true
		}
	}
	return Result{}, false
}

// Last returns the result of the last predecessor.
func (p Parents) Last() (Result, bool) {
	if len(p) == 0 {
		return Result{}, false
	}
	return p[len(p)-1].Result, true
}

// Successful returns only the predecessors whose result succeeded.
func (p Parents) Successful() Parents {
	var out Parents
	for _, parent := range p {
		if parent.Result.Success {
			out = append(out, parent)
		}
	}
	return out
}

// ParentData joins the data of every successful predecessor, in order,
// separated by a blank line. Failed predecessors are skipped, so a node
// whose predecessors all failed receives the empty string.
func ParentData(parents Parents) string {
	parts := make([]string, 0, len(parents))
	for _, parent := range parents {
		if !parent.Result.Success {
			continue
		}
		parts = append(parts, parent.Result.Text())
	}
	return strings.Join(parts, "\n\n")
}

// Registry resolves a node kind to an executable Node.
//
// The engine asks the registry for one instance per workflow node before
// any node runs, so an unknown kind is reported as a structural error.
type Registry interface {
	// Instantiate returns a node for kind or an error wrapping
	// ErrUnknownNodeKind.
	Instantiate(kind string) (Node, error)
}

// RegistryFunc adapts a function to the Registry interface.
type RegistryFunc func(kind string) (Node, error)

// Instantiate implements Registry.
func (f RegistryFunc) Instantiate(kind string) (Node, error) {
	return f(kind)
}
