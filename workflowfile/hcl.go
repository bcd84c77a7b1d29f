package workflowfile

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/dshills/agentflow/graph"
)

type hclWorkflow struct {
	ID          string          `hcl:"id,optional"`
	Name        string          `hcl:"name,optional"`
	Nodes       []hclNode       `hcl:"node,block"`
	Connections []hclConnection `hcl:"connection,block"`
}

type hclNode struct {
	Kind     string         `hcl:"subtype,label"`
	ID       string         `hcl:"id,label"`
	Name     string         `hcl:"name,optional"`
	Type     string         `hcl:"type,optional"`
	Config   hcl.Expression `hcl:"config,optional"`
	Position *hclPosition   `hcl:"position,block"`
}

type hclPosition struct {
	X float64 `hcl:"x"`
	Y float64 `hcl:"y"`
}

type hclConnection struct {
	Source string `hcl:"source"`
	Target string `hcl:"target"`
}

func decodeHCL(name string, data []byte) (*graph.Workflow, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", name, diags)
	}

	ctx := evalContext()
	var raw hclWorkflow
	if diags := gohcl.DecodeBody(file.Body, ctx, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", name, diags)
	}

	w := &graph.Workflow{ID: raw.ID, Name: raw.Name}
	for _, n := range raw.Nodes {
		node := graph.WorkflowNode{ID: n.ID, Kind: n.Kind, Name: n.Name, Type: n.Type}
		if n.Position != nil {
			node.Position = &graph.Position{X: n.Position.X, Y: n.Position.Y}
		}

		cfg, err := decodeConfig(n.Config, ctx)
		if err != nil {
			return nil, fmt.Errorf("node %q in %s: %w", n.ID, name, err)
		}
		node.Config = cfg
		w.Nodes = append(w.Nodes, node)
	}
	for _, c := range raw.Connections {
		w.Connections = append(w.Connections, graph.Connection{Source: c.Source, Target: c.Target})
	}
	return w, nil
}

func decodeConfig(expr hcl.Expression, ctx *hcl.EvalContext) (graph.Config, error) {
	if expr == nil {
		return graph.Config{}, nil
	}
	val, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return nil, diags
	}
	native, err := ctyToNative(val)
	if err != nil {
		return nil, err
	}
	switch m := native.(type) {
	case nil:
		return graph.Config{}, nil
	case map[string]any:
		return graph.Config(m), nil
	default:
		return nil, fmt.Errorf("config must be an object, got %s", val.Type().FriendlyName())
	}
}

// evalContext exposes the process environment as env and a few string
// functions.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
		Functions: map[string]function.Function{
			"upper":     stdlib.UpperFunc,
			"lower":     stdlib.LowerFunc,
			"trimspace": stdlib.TrimSpaceFunc,
			"join":      stdlib.JoinFunc,
			"format":    stdlib.FormatFunc,
		},
	}
}

// ctyToNative converts a cty value to the shapes JSON decoding produces.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
