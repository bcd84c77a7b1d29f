package nodes

import (
	"context"
	"strings"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/tool"
	"github.com/dshills/agentflow/internal/xjson"
)

type webSearchNode struct {
	search *tool.WebSearch
}

func (n *webSearchNode) Execute(ctx context.Context, cfg graph.Config, parents graph.Parents) graph.Result {
	query := cfg.String("query")
	if query == "" {
		query = cfg.String("value")
	}
	if query == "" {
		query = strings.TrimSpace(graph.ParentData(parents))
	}
	if query == "" {
		return graph.Fail("No search query provided")
	}

	results, err := n.search.Search(ctx, query, cfg.Int("max_results", tool.DefaultMaxResults))
	if err != nil {
		return graph.Failf("Web search failed: %v", err)
	}

	structured, err := xjson.MarshalIndent(map[string]any{
		"query":         query,
		"results_count": len(results),
		"results":       results,
	}, "", "  ")
	if err != nil {
		return graph.Failf("Web search failed: %v", err)
	}
	return graph.Succeed(tool.FormatResults(query, results)).
		WithMeta("json_data", string(structured)).
		WithMeta("results_count", len(results))
}

type documentNode struct {
	extractor *tool.DocumentExtractor
}

func (n *documentNode) Execute(ctx context.Context, cfg graph.Config, parents graph.Parents) graph.Result {
	path := cfg.String("value")
	if path == "" {
		path = strings.TrimSpace(graph.ParentData(parents))
	}
	if path == "" {
		return graph.Fail("No file path provided")
	}

	doc, err := n.extractor.Extract(ctx, path)
	if err != nil {
		return graph.Failf("Document extraction failed: %v", err)
	}
	data, err := xjson.MarshalIndent(doc, "", "  ")
	if err != nil {
		return graph.Failf("Document extraction failed: %v", err)
	}
	return graph.Succeed(string(data)).
		WithMeta("extracted_pages", doc.Metadata.Pages).
		WithMeta("has_tables", len(doc.Tables) > 0)
}
