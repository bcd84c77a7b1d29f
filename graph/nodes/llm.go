package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/model"
)

// Execution modes of the llm kind.
const (
	ModeUserPrompt   = "user_prompt"
	ModeSystemPrompt = "system_prompt"
	ModeCombined     = "combined"
)

type llmNode struct {
	generate model.TextGenerator
}

func (n *llmNode) Execute(ctx context.Context, cfg graph.Config, parents graph.Parents) graph.Result {
	prompt := cfg.String("prompt")
	mode := cfg.StringOr("execution_mode", ModeUserPrompt)
	parentData := graph.ParentData(parents)

	final := buildPrompt(mode, prompt, parentData)
	if strings.TrimSpace(final) == "" {
		return graph.Fail("No input or prompt provided")
	}

	out, err := n.generate(ctx, final)
	if err != nil {
		return graph.Failf("LLM execution failed: %v", err)
	}
	return graph.Succeed(out).
		WithMeta("prompt_used", prompt).
		WithMeta("description", cfg.String("description")).
		WithMeta("execution_mode", mode)
}

// buildPrompt combines the configured prompt with predecessor data.
// Unknown modes behave like user_prompt.
func buildPrompt(mode, prompt, parentData string) string {
	switch mode {
	case ModeSystemPrompt:
		return fmt.Sprintf("System Instruction:\n%s\n\nUser Input:\n%s", prompt, parentData)
	case ModeCombined:
		return fmt.Sprintf("%s\n\nInput Data:\n%s", prompt, parentData)
	default:
		if prompt == "" {
			return parentData
		}
		return fmt.Sprintf("%s\n\n%s", prompt, parentData)
	}
}
