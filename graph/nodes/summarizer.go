package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/model"
)

// summaryWords maps the summarizer "mode" to a target length.
var summaryWords = map[string]int{
	"small":  50,
	"medium": 100,
	"large":  400,
}

type summarizerNode struct {
	generate model.TextGenerator
}

func (n *summarizerNode) Execute(ctx context.Context, cfg graph.Config, parents graph.Parents) graph.Result {
	text := cfg.String("input")
	if text == "" {
		text = graph.ParentData(parents)
	}
	if text == "" {
		return graph.Fail("No text to summarize")
	}

	mode := cfg.StringOr("mode", "medium")
	limit, ok := summaryWords[mode]
	if !ok {
		limit = summaryWords["medium"]
	}

	prompt := fmt.Sprintf("\nSummarize the following text in approximately %d words.\n\nText:\n%s\n", limit, text)
	summary, err := n.generate(ctx, prompt)
	if err != nil {
		return graph.Failf("Summarization failed: %v", err)
	}
	return graph.Succeed(summary).WithMeta("mode", mode)
}
