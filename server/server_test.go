package server_test

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/graph/nodes"
	"github.com/dshills/agentflow/graph/store"
	"github.com/dshills/agentflow/internal/xjson"
	"github.com/dshills/agentflow/server"
)

const passwordPolicy = `package guard

deny contains msg if {
	contains(lower(input.text), "password")
	msg := "mentions a password"
}
`

type fixture struct {
	srv       *httptest.Server
	store     store.Store
	uploadDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	promReg := prometheus.NewRegistry()
	reg := nodes.NewRegistry(nodes.Deps{Generate: model.Echo()})
	engine, err := graph.New(reg,
		graph.WithMaxConcurrent(1),
		graph.WithMetrics(graph.NewPrometheusMetrics(promReg)),
	)
	require.NoError(t, err)

	st := store.NewMemStore()
	dir := t.TempDir()
	s, err := server.New(server.Options{
		Engine:    engine,
		Registry:  reg,
		Store:     st,
		UploadDir: dir,
		Provider:  "echo",
		Gatherer:  promReg,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, store: st, uploadDir: dir}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := xjson.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, xjson.Unmarshal(data, &v), string(data))
	return v
}

func pipeline(id, text string) graph.Workflow {
	return graph.Workflow{
		ID: id,
		Nodes: []graph.WorkflowNode{
			{ID: "in", Kind: nodes.KindInput, Config: graph.Config{"value": text}},
			{ID: "guard", Kind: nodes.KindGuardrail, Config: graph.Config{"policy": passwordPolicy, "skip_llm": true}},
			{ID: "llm", Kind: nodes.KindLLM, Config: graph.Config{"prompt": "Say"}},
			{ID: "out", Kind: nodes.KindOutput},
		},
		Connections: []graph.Connection{
			{Source: "in", Target: "guard"},
			{Source: "guard", Target: "llm"},
			{Source: "llm", Target: "out"},
		},
	}
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"status": "running", "version": "1.0"}, decode[map[string]string](t, body))

	code, body = f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, code)
	health := decode[map[string]any](t, body)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "echo", health["provider"])

	code, _ = f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNodes(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, code)

	catalog := decode[map[string][]map[string]any](t, body)
	require.Len(t, catalog, 3)
	require.NotEmpty(t, catalog["special"])
	assert.Equal(t, "input", catalog["special"][0]["type"])
	assert.Len(t, catalog["agents"], 4)
	assert.Len(t, catalog["tools"], 2)
}

func TestExecute(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		f := newFixture(t)

		code, body := f.do(t, http.MethodPost, "/api/execute", server.ExecuteRequest{Workflow: pipeline("wf", "hello")})
		require.Equal(t, http.StatusOK, code, string(body))

		resp := decode[server.ExecuteResponse](t, body)
		assert.True(t, resp.Success)
		assert.Equal(t, "completed", resp.Status)
		assert.Equal(t, "Say\n\nhello", resp.Result["out"].Data)
		require.NotEmpty(t, resp.Logs)
		assert.Equal(t, graph.TraceRunStarted, resp.Logs[0].Event)
		assert.Equal(t, graph.TraceRunCompleted, resp.Logs.Final().Event)

		code, body = f.do(t, http.MethodGet, "/api/runs/"+resp.RunID, nil)
		require.Equal(t, http.StatusOK, code)
		stored := decode[graph.RunResult](t, body)
		assert.Equal(t, graph.StatusCompleted, stored.Status)
		assert.Equal(t, "wf", stored.WorkflowID)
	})

	t.Run("blocked", func(t *testing.T) {
		f := newFixture(t)

		code, body := f.do(t, http.MethodPost, "/api/execute", server.ExecuteRequest{Workflow: pipeline("wf", "my password is hunter2")})
		require.Equal(t, http.StatusOK, code, string(body))

		resp := decode[server.ExecuteResponse](t, body)
		assert.True(t, resp.Success)
		assert.Equal(t, "blocked", resp.Status)
		assert.Equal(t, "guard", resp.BlockedBy)
		assert.NotContains(t, resp.Result, "llm")
		assert.Contains(t, resp.Result["out"].Data, "mentions a password")
		assert.Equal(t, graph.TraceRunBlocked, resp.Logs.Final().Event)
	})

	t.Run("structural errors are bad requests", func(t *testing.T) {
		f := newFixture(t)

		cyclic := graph.Workflow{
			Nodes: []graph.WorkflowNode{
				{ID: "a", Kind: nodes.KindLLM},
				{ID: "b", Kind: nodes.KindLLM},
			},
			Connections: []graph.Connection{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
		}
		code, body := f.do(t, http.MethodPost, "/api/execute", server.ExecuteRequest{Workflow: cyclic})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.NotEmpty(t, decode[map[string]string](t, body)["detail"])

		unknown := graph.Workflow{Nodes: []graph.WorkflowNode{{ID: "a", Kind: "teleport"}}}
		code, _ = f.do(t, http.MethodPost, "/api/execute", server.ExecuteRequest{Workflow: unknown})
		assert.Equal(t, http.StatusBadRequest, code)

		code, _ = f.do(t, http.MethodPost, "/api/execute", server.ExecuteRequest{})
		assert.Equal(t, http.StatusBadRequest, code)

		code, _ = f.do(t, http.MethodPost, "/api/execute", "{not json")
		assert.Equal(t, http.StatusBadRequest, code)

		runs, err := f.store.ListRuns(t.Context(), store.RunFilter{})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/validate", pipeline("wf", "hi"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, decode[map[string]any](t, body)["valid"])

	dangling := graph.Workflow{
		Nodes:       []graph.WorkflowNode{{ID: "a", Kind: nodes.KindInput}},
		Connections: []graph.Connection{{Source: "a", Target: "ghost"}},
	}
	code, body = f.do(t, http.MethodPost, "/api/validate", dangling)
	require.Equal(t, http.StatusOK, code)
	got := decode[map[string]any](t, body)
	assert.Equal(t, false, got["valid"])
	assert.NotEmpty(t, got["error"])
}

func TestWorkflowCRUD(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/workflows/save", pipeline("wf-1", "hello"))
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, map[string]any{"success": true, "message": "Workflow saved"}, decode[map[string]any](t, body))

	code, body = f.do(t, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]graph.Workflow](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, "wf-1", list[0].ID)
	assert.NotEmpty(t, list[0].CreatedAt)

	code, body = f.do(t, http.MethodGet, "/api/workflows/wf-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[graph.Workflow](t, body).Nodes, 4)

	code, body = f.do(t, http.MethodDelete, "/api/workflows/wf-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Workflow deleted", decode[map[string]any](t, body)["message"])

	code, body = f.do(t, http.MethodGet, "/api/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, map[string]string{"detail": "Workflow not found"}, decode[map[string]string](t, body))

	code, _ = f.do(t, http.MethodDelete, "/api/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/workflows/save", graph.Workflow{Name: "no id"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))
}

func TestRuns(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"hello", "password", "again"} {
		code, _ := f.do(t, http.MethodPost, "/api/execute", server.ExecuteRequest{Workflow: pipeline("wf", text)})
		require.Equal(t, http.StatusOK, code)
	}

	code, body := f.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]store.RunSummary](t, body), 3)

	code, body = f.do(t, http.MethodGet, "/api/runs?status=blocked", nil)
	require.Equal(t, http.StatusOK, code)
	blocked := decode[[]store.RunSummary](t, body)
	require.Len(t, blocked, 1)
	assert.Equal(t, "guard", blocked[0].BlockedBy)

	code, body = f.do(t, http.MethodGet, "/api/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]store.RunSummary](t, body), 2)

	code, _ = f.do(t, http.MethodGet, "/api/runs?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Run not found", decode[map[string]string](t, body)["detail"])
}

func upload(t *testing.T, f *fixture, name string, content []byte) server.UploadResponse {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.srv.URL+"/api/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return decode[server.UploadResponse](t, data)
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	got := upload(t, f, "scan.PNG", []byte("\x89PNG fake image"))
	require.True(t, got.Success, got.Error)
	assert.Equal(t, "scan.PNG", got.FileName)
	assert.EqualValues(t, 15, got.FileSize)
	assert.True(t, strings.HasPrefix(got.FilePath, f.uploadDir))
	assert.True(t, strings.HasSuffix(got.FilePath, "_scan.PNG"))

	data, err := os.ReadFile(got.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake image", string(data))

	got = upload(t, f, "tool.exe", []byte("MZ"))
	assert.False(t, got.Success)
	assert.Equal(t, "Unsupported file type: .exe", got.Error)

	got = upload(t, f, "../../escape.pdf", []byte("%PDF"))
	require.True(t, got.Success, got.Error)
	assert.True(t, strings.HasPrefix(got.FilePath, f.uploadDir))
	assert.Equal(t, "escape.pdf", got.FileName)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/execute", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")

	r2, err := http.Get(f.srv.URL + "/api/health")
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, "*", r2.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/execute", server.ExecuteRequest{Workflow: pipeline("wf", "password")})
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `agentflow_runs_total{status="blocked"} 1`)
	assert.Contains(t, string(body), `agentflow_blocks_total{subtype="guardrail"} 1`)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := server.New(server.Options{})
	assert.Error(t, err)
}
