// Package mcp exposes workflow execution as Model Context Protocol tools, so
// an assistant can list node kinds, validate and run workflows, and inspect
// recorded runs over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/nodes"
	"github.com/dshills/agentflow/graph/store"
	"github.com/dshills/agentflow/internal/xjson"
	"github.com/dshills/agentflow/workflowfile"
)

const (
	serverName    = "agentflow"
	serverVersion = "1.0"
)

// errInvalidArguments marks a request the caller must correct. It is reported
// as a tool result with IsError set; other errors fail the call.
var errInvalidArguments = errors.New("invalid arguments")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidArguments, fmt.Sprintf(format, args...))
}

// toolFailure converts err into the reply for a handler.
func toolFailure(err error) (*sdkmcp.CallToolResult, error) {
	if errors.Is(err, errInvalidArguments) {
		return toolError(err), nil
	}
	return nil, err
}

// Options configures a Server. Engine, Registry and Store are required.
type Options struct {
	Engine   *graph.Engine
	Registry *nodes.Registry
	Store    store.Store
	Logger   *slog.Logger
}

// Server serves the agentflow tool set over an MCP transport.
type Server struct {
	engine   *graph.Engine
	registry *nodes.Registry
	store    store.Store
	logger   *slog.Logger
	server   *sdkmcp.Server
}

// New creates a Server with every tool registered.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil || opts.Registry == nil || opts.Store == nil {
		return nil, errors.New("mcp: engine, registry and store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   opts.Engine,
		registry: opts.Registry,
		store:    opts.Store,
		logger:   logger,
		server: sdkmcp.NewServer(&sdkmcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, &sdkmcp.ServerOptions{
			Logger: logger,
		}),
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP over r and w until ctx is done or the client hangs up.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	transport := &sdkmcp.IOTransport{
		Reader: io.NopCloser(r),
		Writer: nopWriteCloser{Writer: w},
	}
	return s.server.Run(ctx, transport)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// workflowSource names a workflow three ways. Exactly one field is set.
type workflowSource struct {
	Workflow   *graph.Workflow `json:"workflow,omitempty"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	Path       string          `json:"path,omitempty"`
}

type runIDInput struct {
	RunID string `json:"run_id"`
}

type runListInput struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type runOutput struct {
	Success      bool                    `json:"success"`
	Status       graph.RunStatus         `json:"status"`
	RunID        string                  `json:"run_id"`
	BlockedBy    string                  `json:"blocked_by,omitempty"`
	OutputNode   string                  `json:"output_node,omitempty"`
	Output       string                  `json:"output,omitempty"`
	Results      map[string]graph.Result `json:"results"`
	Logs         graph.Trace             `json:"logs"`
	Error        string                  `json:"error,omitempty"`
	DurationMS   int64                   `json:"duration_ms"`
	WorkflowID   string                  `json:"workflow_id,omitempty"`
	TerminalNode string                  `json:"terminal_node,omitempty"`
}

type validateOutput struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type workflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Nodes       int    `json:"nodes"`
	Connections int    `json:"connections"`
}

func (s *Server) registerTools() {
	s.server.AddTool(&sdkmcp.Tool{
		Name:        "nodes.list",
		Title:       "List Node Kinds",
		Description: "Lists the node kinds a workflow may use, grouped into agents, tools and special nodes",
		InputSchema: objectSchema(nil),
		Annotations: &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.handleNodesList)

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "workflow.validate",
		Title:       "Validate Workflow",
		Description: "Checks a workflow for unknown node kinds, dangling connections and cycles without running it",
		InputSchema: workflowSourceSchema(),
		Annotations: &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.handleValidate)

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "workflow.run",
		Title:       "Run Workflow",
		Description: "Executes a workflow in dependency order and records the run",
		InputSchema: workflowSourceSchema(),
	}, s.handleRun)

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "workflow.list",
		Title:       "List Workflows",
		Description: "Lists saved workflows",
		InputSchema: objectSchema(nil),
		Annotations: &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.handleWorkflowList)

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "runs.get",
		Title:       "Get Run",
		Description: "Returns a recorded run with its per-node results and execution log",
		InputSchema: objectSchema(map[string]any{
			"run_id": map[string]any{"type": "string"},
		}, "run_id"),
		Annotations: &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.handleRunGet)

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "runs.list",
		Title:       "List Runs",
		Description: "Lists recorded runs, newest first",
		InputSchema: objectSchema(map[string]any{
			"workflow_id": map[string]any{"type": "string"},
			"status":      map[string]any{"type": "string", "enum": []string{"completed", "blocked", "cancelled"}},
			"limit":       map[string]any{"type": "integer"},
		}),
		Annotations: &sdkmcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.handleRunList)
}

func (s *Server) handleNodesList(_ context.Context, _ *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	return structured(s.registry.Catalog())
}

func (s *Server) handleValidate(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	wf, err := s.resolveWorkflow(ctx, req)
	if err != nil {
		return toolFailure(err)
	}
	if err := s.engine.Validate(wf); err != nil {
		return structured(validateOutput{Error: err.Error()})
	}
	return structured(validateOutput{Valid: true})
}

func (s *Server) handleRun(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	wf, err := s.resolveWorkflow(ctx, req)
	if err != nil {
		return toolFailure(err)
	}

	run, err := s.engine.Run(ctx, wf)
	if err != nil && run == nil {
		if graph.IsStructural(err) {
			return toolError(err), nil
		}
		s.logger.Error("workflow execution failed", "workflow", wf.ID, "error", err)
		return nil, fmt.Errorf("workflow execution failed: %w", err)
	}

	if serr := s.store.SaveRun(context.WithoutCancel(ctx), run); serr != nil {
		s.logger.Warn("failed to record run", "run_id", run.RunID, "error", serr)
	}

	out := runOutput{
		Success:      err == nil,
		Status:       run.Status,
		RunID:        run.RunID,
		BlockedBy:    run.BlockedBy,
		Results:      run.Results,
		Logs:         run.Trace,
		DurationMS:   run.Duration().Milliseconds(),
		WorkflowID:   run.WorkflowID,
		TerminalNode: run.TerminalNode,
	}
	if id, res, ok := run.FinalOutput(nodes.KindOutput); ok {
		out.OutputNode = id
		out.Output = res.Text()
	}
	if err != nil {
		out.Error = err.Error()
	}
	return structured(out)
}

func (s *Server) handleWorkflowList(ctx context.Context, _ *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	wfs, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	out := make([]workflowSummary, 0, len(wfs))
	for _, w := range wfs {
		out = append(out, workflowSummary{ID: w.ID, Name: w.Name, Nodes: len(w.Nodes), Connections: len(w.Connections)})
	}
	return structured(map[string]any{"workflows": out})
}

func (s *Server) handleRunGet(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	var in runIDInput
	if err := decodeArguments(req, &in); err != nil {
		return toolFailure(invalid("runs.get: %v", err))
	}
	if in.RunID == "" {
		return toolFailure(invalid("run_id is required"))
	}
	run, err := s.store.GetRun(ctx, in.RunID)
	if errors.Is(err, store.ErrNotFound) {
		return toolError(fmt.Errorf("run %q not found", in.RunID)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return structured(run)
}

func (s *Server) handleRunList(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	var in runListInput
	if err := decodeArguments(req, &in); err != nil {
		return toolFailure(invalid("runs.list: %v", err))
	}
	if in.Limit < 0 {
		return toolFailure(invalid("limit must not be negative"))
	}
	runs, err := s.store.ListRuns(ctx, store.RunFilter{
		WorkflowID: in.WorkflowID,
		Status:     graph.RunStatus(in.Status),
		Limit:      in.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	return structured(map[string]any{"runs": runs})
}

// resolveWorkflow loads the workflow named by the request arguments.
func (s *Server) resolveWorkflow(ctx context.Context, req *sdkmcp.CallToolRequest) (*graph.Workflow, error) {
	var src workflowSource
	if err := decodeArguments(req, &src); err != nil {
		return nil, invalid("workflow arguments: %v", err)
	}

	set := 0
	for _, given := range []bool{src.Workflow != nil, src.WorkflowID != "", src.Path != ""} {
		if given {
			set++
		}
	}
	if set != 1 {
		return nil, invalid("exactly one of workflow, workflow_id or path is required")
	}

	switch {
	case src.Workflow != nil:
		return src.Workflow, nil
	case src.WorkflowID != "":
		wf, err := s.store.GetWorkflow(ctx, src.WorkflowID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid("workflow %q not found", src.WorkflowID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow: %w", err)
		}
		return wf, nil
	default:
		wf, err := workflowfile.Load(src.Path)
		if err != nil {
			return nil, invalid("failed to load workflow file: %v", err)
		}
		return wf, nil
	}
}

func decodeArguments(req *sdkmcp.CallToolRequest, target any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return xjson.Unmarshal(req.Params.Arguments, target)
}

// structured returns v both as structured content and as its JSON text, for
// clients that only read text content.
func structured(v any) (*sdkmcp.CallToolResult, error) {
	raw, err := xjson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool output: %w", err)
	}
	return &sdkmcp.CallToolResult{
		Content:           []sdkmcp.Content{&sdkmcp.TextContent{Text: string(raw)}},
		StructuredContent: v,
	}, nil
}

// toolError reports a failure the caller can act on, such as an invalid
// workflow, as a tool result rather than a protocol error.
func toolError(err error) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object"}
	if properties != nil {
		schema["properties"] = properties
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func workflowSourceSchema() map[string]any {
	return objectSchema(map[string]any{
		"workflow": map[string]any{
			"type":        "object",
			"description": "Inline workflow with nodes and connections",
			"properties": map[string]any{
				"id":   map[string]any{"type": "string"},
				"name": map[string]any{"type": "string"},
				"nodes": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":      map[string]any{"type": "string"},
							"subtype": map[string]any{"type": "string"},
							"name":    map[string]any{"type": "string"},
							"config":  map[string]any{"type": "object"},
						},
						"required": []string{"id", "subtype"},
					},
				},
				"connections": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"source": map[string]any{"type": "string"},
							"target": map[string]any{"type": "string"},
						},
						"required": []string{"source", "target"},
					},
				},
			},
		},
		"workflow_id": map[string]any{"type": "string", "description": "ID of a saved workflow"},
		"path":        map[string]any{"type": "string", "description": "YAML, JSON or HCL workflow file"},
	})
}
