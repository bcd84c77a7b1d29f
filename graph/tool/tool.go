// Package tool provides the non-LLM capabilities that workflow nodes and
// the tool-using agent call: HTTP requests, web search and document
// extraction.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Tool is an external capability invoked with a JSON-shaped input map.
//
// Implementations must be safe for concurrent use; the registry shares
// tool instances across workflow runs.
type Tool interface {
	// Name is the identifier the agent uses in a TOOL_CALL decision.
	Name() string

	// Call executes the tool.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Describer is implemented by tools that can explain themselves to an LLM.
type Describer interface {
	Description() string
}

// Describe returns t's description or a generic one.
func Describe(t Tool) string {
	if d, ok := t.(Describer); ok {
		return d.Description()
	}
	return "Tool " + t.Name()
}

// ErrMissingInput is returned when a required input key is absent.
var ErrMissingInput = errors.New("missing required input")

// Set is a name-indexed collection of tools.
type Set struct {
	tools map[string]Tool
}

// NewSet indexes tools by name. A later tool replaces an earlier one with
// the same name.
func NewSet(tools ...Tool) *Set {
	s := &Set{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t != nil {
			s.tools[t.Name()] = t
		}
	}
	return s
}

// Get returns the tool called name.
func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tools[name]
	return t, ok
}

// List returns the tools sorted by name.
func (s *Set) List() []Tool {
	if s == nil {
		return nil
	}
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

func stringInput(input map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intInput(input map[string]interface{}, key string, def int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
