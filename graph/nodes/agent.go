package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/graph/tool"
	"github.com/dshills/agentflow/internal/xjson"
)

const toolCallPrefix = "TOOL_CALL:"

// maxToolResult bounds the tool output echoed in result metadata.
const maxToolResult = 200

// toolAgentNode is a single-step ReAct agent. With "enable_tools" set the
// model may answer "TOOL_CALL: <tool> | <input>"; the tool runs once and the
// model is asked again with its output.
type toolAgentNode struct {
	generate model.TextGenerator
	tools    *tool.Set
	logger   *slog.Logger
}

func (n *toolAgentNode) Execute(ctx context.Context, cfg graph.Config, parents graph.Parents) graph.Result {
	prompt := cfg.String("prompt")
	parentData := graph.ParentData(parents)
	if prompt == "" && parentData == "" {
		return graph.Fail("No input provided")
	}

	base := parentData
	if prompt != "" {
		base = fmt.Sprintf("%s\n\nInput:\n%s", prompt, parentData)
	}

	if !cfg.Bool("enable_tools") || n.tools.Len() == 0 {
		out, err := n.generate(ctx, base)
		if err != nil {
			return graph.Failf("LLM execution failed: %v", err)
		}
		return graph.Succeed(out).WithMeta("tool_used", nil)
	}

	decision, err := n.generate(ctx, n.reactPrompt(base))
	if err != nil {
		return graph.Failf("LLM execution failed: %v", err)
	}
	decision = strings.TrimSpace(decision)

	name, input, ok := parseToolCall(decision)
	if !ok {
		return graph.Succeed(decision).WithMeta("tool_used", nil)
	}
	t, ok := n.tools.Get(name)
	if !ok {
		n.logger.Warn("model requested unknown tool", "tool", name)
		return graph.Succeed(decision).WithMeta("tool_used", nil)
	}

	toolOutput := n.callTool(ctx, t, input)
	final := fmt.Sprintf("Original Query:\n%s\n\nTool Used: %s\nTool Output:\n%s\n\nUsing the tool output, provide a complete and accurate answer:\n",
		base, name, toolOutput)
	answer, err := n.generate(ctx, final)
	if err != nil {
		return graph.Failf("LLM execution failed: %v", err)
	}
	return graph.Succeed(answer).
		WithMeta("tool_used", name).
		WithMeta("tool_result", truncate(toolOutput, maxToolResult))
}

func (n *toolAgentNode) reactPrompt(base string) string {
	var sb strings.Builder
	for i, t := range n.tools.List() {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %s: %s", t.Name(), tool.Describe(t))
	}
	return fmt.Sprintf(`%s

Available Tools (you may use ONE tool if needed):
%s

Instructions:
- If a tool is required, respond ONLY in the format:
  TOOL_CALL: <tool_name> | <input_for_tool>
- Otherwise, respond with the final answer directly.

Response:
`, base, sb.String())
}

// callTool runs t and renders its output as text. Tool failures are
// reported to the model rather than failing the node.
func (n *toolAgentNode) callTool(ctx context.Context, t tool.Tool, input string) string {
	n.logger.Debug("calling tool", "tool", t.Name())
	out, err := t.Call(ctx, map[string]interface{}{"value": input, "query": input})
	if err != nil {
		return fmt.Sprintf("Tool error: %v", err)
	}
	return toolText(out)
}

// parseToolCall splits "TOOL_CALL: name | input".
func parseToolCall(decision string) (name, input string, ok bool) {
	rest, found := strings.CutPrefix(decision, toolCallPrefix)
	if !found {
		return "", "", false
	}
	name, input, found = strings.Cut(strings.TrimSpace(rest), "|")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(name), strings.TrimSpace(input), true
}

func toolText(out map[string]interface{}) string {
	for _, key := range []string{"summary", "text", "body"} {
		if s, ok := out[key].(string); ok && s != "" {
			return s
		}
	}
	if len(out) == 0 {
		return "No data returned"
	}
	data, err := xjson.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(data)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
