package nodes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// PolicyDecision is the outcome of evaluating a guardrail policy.
type PolicyDecision struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

// PolicyEngine evaluates Rego v1 guardrail policies.
//
// A policy is a module whose "deny" rule is a set of violation messages:
//
//	package guardrail
//
//	deny contains "mentions a password" if {
//		contains(lower(input.text), "password")
//	}
//
// The input document is {"text": <text>, "words": <word count>}. Prepared
// queries are cached by module source, so a policy shared by many nodes
// compiles once.
type PolicyEngine struct {
	mu       sync.RWMutex
	prepared map[string]*rego.PreparedEvalQuery
}

// NewPolicyEngine creates an empty PolicyEngine.
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{prepared: make(map[string]*rego.PreparedEvalQuery)}
}

// Evaluate runs the policy in source against text.
func (p *PolicyEngine) Evaluate(ctx context.Context, source, text string) (PolicyDecision, error) {
	query, err := p.prepare(ctx, source)
	if err != nil {
		return PolicyDecision{}, err
	}

	input := map[string]any{
		"text":  text,
		"words": len(strings.Fields(text)),
	}
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return PolicyDecision{}, fmt.Errorf("evaluate policy: %w", err)
	}

	var violations []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			violations = append(violations, messages(expr.Value)...)
		}
	}
	sort.Strings(violations)
	return PolicyDecision{Allowed: len(violations) == 0, Violations: violations}, nil
}

func messages(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{val}
	case bool:
		if val {
			return []string{"denied by policy"}
		}
	}
	return nil
}

func (p *PolicyEngine) prepare(ctx context.Context, source string) (*rego.PreparedEvalQuery, error) {
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])

	p.mu.RLock()
	if q, ok := p.prepared[key]; ok {
		p.mu.RUnlock()
		return q, nil
	}
	p.mu.RUnlock()

	module, err := ast.ParseModuleWithOpts("guardrail.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	r := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.ParsedModule(module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.prepared[key]; ok {
		return existing, nil
	}
	p.prepared[key] = &prepared
	return &prepared, nil
}
