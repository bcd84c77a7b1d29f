// Package nodes is the built-in node catalog: workflow boundaries, LLM
// agents and tool wrappers, resolved by subtype through Registry.
package nodes

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/graph/tool"
)

// Node subtypes provided by NewRegistry.
const (
	KindInput             = "input"
	KindOutput            = "output"
	KindLLM               = "llm"
	KindLLMTools          = "llm_tools"
	KindSummarizer        = "summarizer"
	KindGuardrail         = "guardrail"
	KindWebSearch         = "web_search"
	KindDocumentExtractor = "document_extractor"
)

// Category groups node kinds in the node palette.
type Category string

const (
	CategoryAgent   Category = "agents"
	CategoryTool    Category = "tools"
	CategorySpecial Category = "special"
)

// Metadata describes a node kind for clients that render a palette.
type Metadata struct {
	Kind        string   `json:"type" yaml:"type"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Icon        string   `json:"icon" yaml:"icon"`
	Category    Category `json:"-" yaml:"category"`
}

// Factory builds a node for one workflow node.
type Factory func() (graph.Node, error)

// ErrNoGenerator is wrapped into the unknown-kind error for agent kinds
// requested from a registry built without a text generator.
var ErrNoGenerator = errors.New("no text generator configured")

var agentKinds = map[string]bool{KindGuardrail: true, KindSummarizer: true, KindLLM: true, KindLLMTools: true}

// Deps are the shared services the built-in nodes call.
type Deps struct {
	// Generate backs every agent kind. When nil the agent kinds are not
	// registered.
	Generate model.TextGenerator

	// Search and Documents are shared by the web_search and
	// document_extractor kinds. Nil values get defaults.
	Search    *tool.WebSearch
	Documents *tool.DocumentExtractor

	// Tools are offered to llm_tools nodes. Nil means Search and Documents.
	Tools *tool.Set

	Logger *slog.Logger
}

type entry struct {
	factory Factory
	meta    Metadata
	order   int
}

// Registry maps node subtypes to factories. It is safe for concurrent use
// and implements graph.Registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	deps    Deps
	policy  *PolicyEngine
}

// NewRegistry creates a registry holding the built-in node kinds.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Search == nil {
		deps.Search = tool.NewWebSearch()
	}
	if deps.Documents == nil {
		deps.Documents = tool.NewDocumentExtractor()
	}
	if deps.Tools == nil {
		deps.Tools = tool.NewSet(deps.Search, deps.Documents)
	}

	r := &Registry{
		entries: make(map[string]entry),
		deps:    deps,
		policy:  NewPolicyEngine(),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	d := r.deps

	r.Register(Metadata{Kind: KindInput, Name: "Input Source", Description: "Multi-type input (text / file / URL)", Icon: "📥", Category: CategorySpecial},
		func() (graph.Node, error) { return inputNode{}, nil })
	r.Register(Metadata{Kind: KindOutput, Name: "Output", Description: "Final workflow output", Icon: "📤", Category: CategorySpecial},
		func() (graph.Node, error) { return outputNode{}, nil })

	if d.Generate != nil {
		r.registerAgents()
	}

	// The tool kinds share one instance each across all runs.
	docs := &documentNode{extractor: d.Documents}
	search := &webSearchNode{search: d.Search}
	r.Register(Metadata{Kind: KindDocumentExtractor, Name: "Document Extractor", Description: "Extract text from PDFs and images", Icon: "📄", Category: CategoryTool},
		func() (graph.Node, error) { return docs, nil })
	r.Register(Metadata{Kind: KindWebSearch, Name: "Web Search", Description: "Search the web for information", Icon: "🔍", Category: CategoryTool},
		func() (graph.Node, error) { return search, nil })
}

func (r *Registry) registerAgents() {
	d := r.deps
	r.Register(Metadata{Kind: KindGuardrail, Name: "Guardrail", Description: "Safety and validation checks", Icon: "🛡️", Category: CategoryAgent},
		r.agent(func(gen model.TextGenerator) graph.Node {
			return &guardrailNode{generate: gen, policy: r.policy, logger: d.Logger}
		}))
	r.Register(Metadata{Kind: KindSummarizer, Name: "Summarizer", Description: "Text summarization agent", Icon: "📝", Category: CategoryAgent},
		r.agent(func(gen model.TextGenerator) graph.Node { return &summarizerNode{generate: gen} }))
	r.Register(Metadata{Kind: KindLLM, Name: "LLM Agent", Description: "Basic language model", Icon: "🤖", Category: CategoryAgent},
		r.agent(func(gen model.TextGenerator) graph.Node { return &llmNode{generate: gen} }))
	r.Register(Metadata{Kind: KindLLMTools, Name: "LLM with Tools", Description: "LLM capable of tool usage (ReAct)", Icon: "🔧🤖", Category: CategoryAgent},
		r.agent(func(gen model.TextGenerator) graph.Node {
			return &toolAgentNode{generate: gen, tools: d.Tools, logger: d.Logger}
		}))
}

func (r *Registry) agent(build func(model.TextGenerator) graph.Node) Factory {
	return func() (graph.Node, error) { return build(r.deps.Generate), nil }
}

// Register adds or replaces a node kind.
func (r *Registry) Register(meta Metadata, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := len(r.entries)
	if existing, ok := r.entries[meta.Kind]; ok {
		order = existing.order
	}
	if meta.Category == "" {
		meta.Category = CategoryTool
	}
	r.entries[meta.Kind] = entry{factory: f, meta: meta, order: order}
}

// Instantiate implements graph.Registry.
func (r *Registry) Instantiate(kind string) (graph.Node, error) {
	r.mu.RLock()
	e, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		if agentKinds[kind] {
			return nil, fmt.Errorf("%w: %s (%w)", graph.ErrUnknownNodeKind, kind, ErrNoGenerator)
		}
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownNodeKind, kind)
	}
	return e.factory()
}

// Describe returns the metadata of kind.
func (r *Registry) Describe(kind string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	return e.meta, ok
}

// Kinds returns every registered subtype in registration order.
func (r *Registry) Kinds() []string {
	list := r.sorted()
	kinds := make([]string, len(list))
	for i, e := range list {
		kinds[i] = e.meta.Kind
	}
	return kinds
}

// Catalog groups metadata by category. Every category key is present even
// when empty.
func (r *Registry) Catalog() map[Category][]Metadata {
	out := map[Category][]Metadata{
		CategoryAgent:   {},
		CategoryTool:    {},
		CategorySpecial: {},
	}
	for _, e := range r.sorted() {
		out[e.meta.Category] = append(out[e.meta.Category], e.meta)
	}
	return out
}

func (r *Registry) sorted() []entry {
	r.mu.RLock()
	list := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })
	return list
}
