package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/model"
)

const guardrailPrompt = `
You are a strict content safety validator.

Analyze the input below and determine whether it violates
any safety, ethical, or policy constraints such as:
- harmful or illegal activity
- hate, harassment, or violence
- self-harm or explicit content
- unsafe or misleading instructions

Respond ONLY in valid JSON.

If the content is unsafe:
{ "allowed": false, "reason": "<short explanation>" }

If the content is safe:
{ "allowed": true }

Input:
"""
%s
"""
`

var disallowed = regexp.MustCompile(`"allowed"\s*:\s*false`)

// guardrailNode blocks the workflow when its input is unsafe.
//
// Config: "input" overrides the predecessor data; "policy" is an optional
// Rego module checked before the model. A policy violation blocks without
// calling the model. "skip_llm" leaves the decision to the policy alone.
type guardrailNode struct {
	generate model.TextGenerator
	policy   *PolicyEngine
	logger   *slog.Logger
}

func (n *guardrailNode) Execute(ctx context.Context, cfg graph.Config, parents graph.Parents) graph.Result {
	text := cfg.String("input")
	if text == "" {
		text = graph.ParentData(parents)
	}
	if text == "" {
		return graph.Fail("No input provided for safety validation")
	}

	if src := cfg.String("policy"); src != "" {
		decision, err := n.policy.Evaluate(ctx, src, text)
		if err != nil {
			return graph.Failf("Guardrail policy failed: %v", err)
		}
		if !decision.Allowed {
			n.logger.Info("guardrail policy denied input", "violations", decision.Violations)
			reason := strings.Join(decision.Violations, "; ")
			return graph.Block(fmt.Sprintf(`{ "allowed": false, "reason": %q }`, reason)).
				WithMeta("policy_violations", decision.Violations)
		}
	}
	if cfg.Bool("skip_llm") {
		return graph.Succeed(text)
	}

	response, err := n.generate(ctx, fmt.Sprintf(guardrailPrompt, text))
	if err != nil {
		return graph.Failf("Guardrail check failed: %v", err)
	}
	if disallowed.MatchString(response) {
		n.logger.Info("guardrail model denied input")
		return graph.Block(response)
	}
	return graph.Succeed(text)
}
