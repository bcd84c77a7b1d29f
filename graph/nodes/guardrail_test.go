package nodes

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentflow/graph"
)

const passwordPolicy = `package guardrail

deny contains "mentions a password" if {
	contains(lower(input.text), "password")
}

deny contains "too long" if {
	input.words > 50
}
`

func newGuardrail(gen *scripted) *guardrailNode {
	return &guardrailNode{generate: gen.generate, policy: NewPolicyEngine(), logger: slog.New(slog.DiscardHandler)}
}

func TestGuardrail_Allowed(t *testing.T) {
	gen := &scripted{replies: []string{`{ "allowed": true }`}}
	r := run(t, newGuardrail(gen), nil, parent("hello world"))

	require.True(t, r.Success)
	assert.False(t, r.Blocked)
	assert.Equal(t, "hello world", r.Data, "guardrail passes its input through")
	assert.Contains(t, gen.prompts[0], "You are a strict content safety validator.")
	assert.Contains(t, gen.prompts[0], "\"\"\"\nhello world\n\"\"\"")
}

func TestGuardrail_ModelBlocks(t *testing.T) {
	for _, reply := range []string{
		`{ "allowed": false, "reason": "violence" }`,
		"```json\n{\"allowed\":false}\n```",
	} {
		gen := &scripted{replies: []string{reply}}
		r := run(t, newGuardrail(gen), graph.Config{"input": "bad things"})
		assert.False(t, r.Success)
		assert.True(t, r.Blocked)
		assert.Equal(t, reply, r.Data)
	}
}

func TestGuardrail_PolicyBlocksWithoutModel(t *testing.T) {
	gen := &scripted{}
	r := run(t, newGuardrail(gen), graph.Config{"policy": passwordPolicy}, parent("my Password is hunter2"))

	assert.True(t, r.Blocked)
	assert.False(t, r.Success)
	assert.Equal(t, []string{"mentions a password"}, r.Meta["policy_violations"])
	assert.Contains(t, r.Data, `"allowed": false`)
	assert.Zero(t, gen.calls(), "policy deny must not reach the model")
}

func TestGuardrail_PolicyAllowsThenModel(t *testing.T) {
	gen := &scripted{replies: []string{`{"allowed": true}`}}
	r := run(t, newGuardrail(gen), graph.Config{"policy": passwordPolicy}, parent("a harmless note"))
	assert.True(t, r.Success)
	assert.Equal(t, 1, gen.calls())

	gen = &scripted{}
	r = run(t, newGuardrail(gen), graph.Config{"policy": passwordPolicy, "skip_llm": true}, parent("a harmless note"))
	assert.True(t, r.Success)
	assert.Zero(t, gen.calls())
}

func TestGuardrail_Failures(t *testing.T) {
	gen := &scripted{}
	r := run(t, newGuardrail(gen), nil)
	assert.Equal(t, "No input provided for safety validation", r.Error)
	assert.False(t, r.Blocked)

	r = run(t, newGuardrail(gen), graph.Config{"policy": "package broken\ndeny contains"}, parent("x"))
	assert.False(t, r.Success)
	assert.False(t, r.Blocked)
	assert.Contains(t, r.Error, "Guardrail policy failed")
}

func TestPolicyEngine_Evaluate(t *testing.T) {
	p := NewPolicyEngine()
	ctx := context.Background()

	d, err := p.Evaluate(ctx, passwordPolicy, "all good")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Violations)

	long := ""
	for i := 0; i < 60; i++ {
		long += "password "
	}
	d, err = p.Evaluate(ctx, passwordPolicy, long)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"mentions a password", "too long"}, d.Violations)
}

func TestPolicyEngine_CachesPreparedQueries(t *testing.T) {
	p := NewPolicyEngine()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Evaluate(context.Background(), passwordPolicy, "text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p.mu.RLock()
	defer p.mu.RUnlock()
	assert.Len(t, p.prepared, 1)
}
