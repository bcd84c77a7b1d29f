package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentflow/graph"
)

func moderatedWorkflow(text string) *graph.Workflow {
	return &graph.Workflow{
		ID: "moderated",
		Nodes: []graph.WorkflowNode{
			{ID: "in", Kind: KindInput, Config: graph.Config{"value": text}},
			{ID: "guard", Kind: KindGuardrail, Config: graph.Config{"policy": passwordPolicy, "skip_llm": true}},
			{ID: "llm", Kind: KindLLM, Config: graph.Config{"prompt": "Reply to"}},
			{ID: "out", Kind: KindOutput},
		},
		Connections: []graph.Connection{
			{Source: "in", Target: "guard"},
			{Source: "guard", Target: "llm"},
			{Source: "llm", Target: "out"},
		},
	}
}

func TestBuiltinWorkflow_Completes(t *testing.T) {
	gen := &scripted{replies: []string{"Hi there"}}
	engine, err := graph.New(NewRegistry(Deps{Generate: gen.generate}), graph.WithMaxConcurrent(1))
	require.NoError(t, err)

	res, err := engine.Run(context.Background(), moderatedWorkflow("hello"))
	require.NoError(t, err)

	assert.Equal(t, graph.StatusCompleted, res.Status)
	assert.Equal(t, []string{"in", "guard", "llm", "out"}, res.Order)
	assert.Equal(t, "Hi there", res.Results["out"].Data)
	assert.Equal(t, []string{"Reply to\n\nhello"}, gen.prompts)
}

func TestBuiltinWorkflow_GuardrailBlocks(t *testing.T) {
	gen := &scripted{}
	engine, err := graph.New(NewRegistry(Deps{Generate: gen.generate}))
	require.NoError(t, err)

	res, err := engine.Run(context.Background(), moderatedWorkflow("my password is hunter2"))
	require.NoError(t, err)

	assert.Equal(t, graph.StatusBlocked, res.Status)
	assert.Equal(t, "guard", res.BlockedBy)
	assert.Equal(t, "out", res.TerminalNode)
	assert.NotContains(t, res.Results, "llm")
	assert.Zero(t, gen.calls())

	out := res.Results["out"]
	assert.True(t, out.Success)
	assert.Contains(t, out.Data, "mentions a password")
	assert.Equal(t, graph.TraceRunBlocked, res.Trace.Final().Event)
}

func TestBuiltinWorkflow_MissingGeneratorIsStructural(t *testing.T) {
	engine, err := graph.New(NewRegistry(Deps{}))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), moderatedWorkflow("hello"))
	require.Error(t, err)
	assert.True(t, graph.IsStructural(err))
	assert.ErrorIs(t, err, graph.ErrUnknownNodeKind)
	assert.ErrorIs(t, err, ErrNoGenerator)
}
