package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/dshills/agentflow/internal/xjson"
)

func TestTraceEntry_FailedNodeKeepsSuccessKey(t *testing.T) {
	n := WorkflowNode{ID: "fetch", Kind: "web_search"}
	entry := nodeEntry(n, Fail("connection refused"), 15*time.Millisecond, time.Unix(0, 0).UTC())

	raw, err := xjson.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(raw)
	for _, want := range []string{`"success":false`, `"error":"connection refused"`, `"duration_ms":15`} {
		if !strings.Contains(got, want) {
			t.Errorf("entry %s missing %s", got, want)
		}
	}

	var decoded map[string]any
	if err := xjson.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := decoded["success"]; !ok || v != false {
		t.Errorf("success = %v (present %v), want false", v, ok)
	}
}
