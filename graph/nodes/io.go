package nodes

import (
	"context"
	"os"

	"github.com/dshills/agentflow/graph"
)

// inputNode is a workflow entry point. Config: "input_type" (text, url or
// file; default text) and "value". File inputs are checked for existence
// and passed on as a path.
type inputNode struct{}

func (inputNode) Execute(_ context.Context, cfg graph.Config, _ graph.Parents) graph.Result {
	inputType := cfg.StringOr("input_type", "text")
	value := cfg.String("value")
	if value == "" {
		return graph.Fail("No input provided")
	}

	if inputType == "file" {
		if _, err := os.Stat(value); err != nil {
			return graph.Failf("File not found: %s", value)
		}
	}
	return graph.Succeed(value).WithMeta("input_type", inputType)
}

// outputNode is the terminal node. It forwards the data of its last
// predecessor, which after a block is the blocking node.
type outputNode struct{}

func (outputNode) Execute(_ context.Context, _ graph.Config, parents graph.Parents) graph.Result {
	last, ok := parents.Last()
	if !ok {
		return graph.Fail("No input received")
	}
	data := last.Data
	if data == nil {
		data = ""
	}
	return graph.Succeed(data)
}
