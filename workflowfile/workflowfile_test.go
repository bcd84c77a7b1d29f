package workflowfile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/agentflow/graph"
)

const jsonDoc = `{
  "id": "research",
  "name": "Research",
  "nodes": [
    {"id": "q", "type": "special", "subtype": "input", "name": "Question", "config": {"value": "What is Go?", "input_type": "text"}, "position": {"x": 10, "y": 20}},
    {"id": "llm", "type": "agent", "subtype": "llm", "name": "Answer", "config": {"prompt": "Answer briefly", "retries": 2}},
    {"id": "out", "type": "special", "subtype": "output", "name": "Output", "config": null}
  ],
  "connections": [
    {"source": "q", "target": "llm"},
    {"source": "llm", "target": "out"}
  ]
}`

const yamlDoc = `
id: research
name: Research
nodes:
  - id: q
    type: special
    subtype: input
    name: Question
    config:
      value: What is Go?
      input_type: text
    position: {x: 10, y: 20}
  - id: llm
    type: agent
    subtype: llm
    name: Answer
    config:
      prompt: Answer briefly
      retries: 2
  - id: out
    type: special
    subtype: output
    name: Output
connections:
  - {source: q, target: llm}
  - {source: llm, target: out}
`

const hclDoc = `
id   = "research"
name = "Research"

node "input" "q" {
  type = "special"
  name = "Question"
  config = {
    value      = "What is Go?"
    input_type = "text"
  }
  position {
    x = 10
    y = 20
  }
}

node "llm" "llm" {
  type = "agent"
  name = "Answer"
  config = {
    prompt  = "Answer briefly"
    retries = 2
  }
}

node "output" "out" {
  type = "special"
  name = "Output"
}

connection {
  source = "q"
  target = "llm"
}

connection {
  source = "llm"
  target = "out"
}
`

func TestParse_FormatsAgree(t *testing.T) {
	docs := map[string]string{
		"research.json": jsonDoc,
		"research.yaml": yamlDoc,
		"research.hcl":  hclDoc,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			w, err := Parse(name, []byte(doc))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if w.ID != "research" || w.Name != "Research" {
				t.Errorf("ID/Name = %q/%q", w.ID, w.Name)
			}
			if err := w.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}

			var kinds []string
			for _, n := range w.Nodes {
				kinds = append(kinds, n.Kind)
			}
			if !reflect.DeepEqual(kinds, []string{"input", "llm", "output"}) {
				t.Errorf("kinds = %v", kinds)
			}

			q := w.Nodes[0]
			if q.Config.String("value") != "What is Go?" || q.Name != "Question" || q.Type != "special" {
				t.Errorf("input node = %+v", q)
			}
			if q.Position == nil || q.Position.X != 10 || q.Position.Y != 20 {
				t.Errorf("position = %+v", q.Position)
			}
			if got := w.Nodes[1].Config.Int("retries", 0); got != 2 {
				t.Errorf("retries = %d, want 2", got)
			}
			if w.Nodes[2].Config == nil {
				t.Error("empty config should be normalized to an empty map")
			}
			if !reflect.DeepEqual(w.Connections, []graph.Connection{{Source: "q", Target: "llm"}, {Source: "llm", Target: "out"}}) {
				t.Errorf("connections = %v", w.Connections)
			}
		})
	}
}

func TestParse_HCLExpressions(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_QUESTION", "  why?  ")
	doc := `
node "input" "q" {
  config = {
    value = trimspace(env.AGENTFLOW_TEST_QUESTION)
    tags  = ["a", "b"]
    flags = { verbose = true }
  }
}
node "llm" "l" {
  config = { prompt = upper(join(" ", ["be", "brief"])) }
}
`
	w, err := Parse("expr.hcl", []byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cfg := w.Nodes[0].Config
	if cfg.String("value") != "why?" {
		t.Errorf("value = %q", cfg.String("value"))
	}
	if !reflect.DeepEqual(cfg["tags"], []any{"a", "b"}) {
		t.Errorf("tags = %#v", cfg["tags"])
	}
	if !reflect.DeepEqual(cfg["flags"], map[string]any{"verbose": true}) {
		t.Errorf("flags = %#v", cfg["flags"])
	}
	if got := w.Nodes[1].Config.String("prompt"); got != "BE BRIEF" {
		t.Errorf("prompt = %q", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		doc  string
		want string
	}{
		{"unknown extension", "flow.toml", "", "unsupported workflow file"},
		{"bad json", "flow.json", "{", "parse flow.json"},
		{"bad yaml", "flow.yaml", "nodes: [", "parse flow.yaml"},
		{"bad hcl", "flow.hcl", "node {", "failed to parse HCL"},
		{"unknown hcl attribute", "flow.hcl", `colour = "red"`, "failed to decode HCL"},
		{"config not object", "flow.hcl", `node "llm" "x" { config = "text" }`, "config must be an object"},
		{"unknown variable", "flow.hcl", `node "llm" "x" { config = { a = nope } }`, `node "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly-report.yml")
	doc := "nodes:\n  - {id: a, subtype: input, config: {value: x}}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if w.ID != "nightly-report" {
		t.Errorf("ID = %q, want file stem", w.ID)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}

func TestEncode(t *testing.T) {
	w, err := Parse("research.hcl", []byte(hclDoc))
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []Format{FormatJSON, FormatYAML} {
		data, err := Encode(format, w)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", format, err)
		}
		back, err := Decode(format, "encoded", data)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", format, err)
		}
		if len(back.Nodes) != 3 || back.Nodes[1].Config.String("prompt") != "Answer briefly" {
			t.Errorf("%s round trip lost data: %+v", format, back.Nodes)
		}
	}

	if _, err := Encode(FormatHCL, w); err == nil {
		t.Error("Encode(hcl) should fail")
	}
}
