package graph

import (
	"context"
	"testing"
)

func TestParentData(t *testing.T) {
	tests := []struct {
		name    string
		parents Parents
		want    string
	}{
		{"no parents", nil, ""},
		{
			name:    "single parent",
			parents: Parents{{NodeID: "a", Result: Succeed("hello")}},
			want:    "hello",
		},
		{
			name: "joined in parent order",
			parents: Parents{
				{NodeID: "b", Result: Succeed("second")},
				{NodeID: "a", Result: Succeed("first")},
			},
			want: "second\n\nfirst",
		},
		{
			name: "failed parents skipped",
			parents: Parents{
				{NodeID: "a", Result: Succeed("kept")},
				{NodeID: "b", Result: Fail("boom")},
				{NodeID: "c", Result: Block("unsafe")},
			},
			want: "kept",
		},
		{
			name: "all parents failed",
			parents: Parents{
				{NodeID: "a", Result: Fail("x")},
				{NodeID: "b", Result: Fail("y")},
			},
			want: "",
		},
		{
			name:    "structured data rendered as JSON",
			parents: Parents{{NodeID: "a", Result: Succeed(map[string]any{"k": "v"})}},
			want:    `{"k":"v"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParentData(tt.parents); got != tt.want {
				t.Errorf("ParentData() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResultConstructors(t *testing.T) {
	if r := Succeed("x"); !r.Success || r.Data != "x" || r.Blocked {
		t.Errorf("Succeed = %+v", r)
	}
	if r := Failf("node %s failed", "a"); r.Success || r.Error != "node a failed" {
		t.Errorf("Failf = %+v", r)
	}
	r := Block(map[string]any{"reason": "unsafe"})
	if r.Success || !r.Blocked {
		t.Errorf("Block must be unsuccessful and blocked: %+v", r)
	}
}

func TestResult_WithMetaCopies(t *testing.T) {
	base := Succeed("x").WithMeta("a", 1)
	derived := base.WithMeta("b", 2)
	if _, ok := base.Meta["b"]; ok {
		t.Error("WithMeta mutated the receiver's map")
	}
	if derived.Meta["a"] != 1 || derived.Meta["b"] != 2 {
		t.Errorf("derived meta = %v", derived.Meta)
	}
}

func TestResult_Text(t *testing.T) {
	tests := []struct {
		data any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{[]byte("b"), "b"},
		{42, "42"},
		{true, "true"},
		{[]any{"a", 1.5}, `["a",1.5]`},
	}
	for _, tt := range tests {
		if got := (Result{Data: tt.data}).Text(); got != tt.want {
			t.Errorf("Text(%v) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestParents_Lookup(t *testing.T) {
	p := Parents{
		{NodeID: "a", Result: Succeed("1")},
		{NodeID: "b", Result: Fail("2")},
	}
	if r, ok := p.Get("b"); !ok || r.Error != "2" {
		t.Errorf("Get(b) = %+v, %v", r, ok)
	}
	if _, ok := p.Get("zzz"); ok {
		t.Error("Get on missing id returned ok")
	}
	if r, ok := p.Last(); !ok || r.Error != "2" {
		t.Errorf("Last() = %+v, %v", r, ok)
	}
	if _, ok := (Parents{}).Last(); ok {
		t.Error("Last on empty returned ok")
	}
	if s := p.Successful(); len(s) != 1 || s[0].NodeID != "a" {
		t.Errorf("Successful() = %+v", s)
	}
}

func TestNodeFunc(t *testing.T) {
	var n Node = NodeFunc(func(ctx context.Context, cfg Config, parents Parents) Result {
		return Succeed(cfg.String("value") + ParentData(parents))
	})
	got := n.Execute(context.Background(), Config{"value": "x"}, Parents{{NodeID: "p", Result: Succeed("y")}})
	if got.Data != "xy" {
		t.Errorf("Execute = %+v", got)
	}
}

func TestConfigAccessors(t *testing.T) {
	cfg := Config{
		"s":       "text",
		"n":       float64(7),
		"ns":      " 12 ",
		"b":       true,
		"bs":      "yes",
		"nil":     nil,
		"bad_int": "seven",
	}
	if cfg.String("s") != "text" || cfg.String("missing") != "" || cfg.String("nil") != "" {
		t.Error("String accessor")
	}
	if cfg.String("n") != "7" {
		t.Errorf("String(n) = %q", cfg.String("n"))
	}
	if cfg.StringOr("missing", "def") != "def" || cfg.StringOr("s", "def") != "text" {
		t.Error("StringOr accessor")
	}
	if cfg.Int("n", 0) != 7 || cfg.Int("ns", 0) != 12 || cfg.Int("bad_int", 5) != 5 || cfg.Int("missing", 3) != 3 {
		t.Error("Int accessor")
	}
	if !cfg.Bool("b") || !cfg.Bool("bs") || cfg.Bool("s") || cfg.Bool("missing") {
		t.Error("Bool accessor")
	}

	clone := cfg.Clone()
	clone["s"] = "changed"
	if cfg.String("s") != "text" {
		t.Error("Clone shares storage")
	}
	if len(Config(nil).Clone()) != 0 {
		t.Error("nil Clone")
	}
}
