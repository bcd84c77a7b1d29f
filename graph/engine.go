package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/dshills/agentflow/graph/emit"
)

// Engine executes workflows against a node registry.
//
// A run proceeds in two phases:
//  1. Planning: the workflow is validated, topologically sorted and every
//     node kind is resolved. Any failure here is a structural error and no
//     node executes.
//  2. Execution: nodes run as soon as all of their predecessors have stored
//     results, up to MaxConcurrentNodes at a time. A node's failure is
//     recorded in its Result and never stops the run. A blocked result
//     stops dispatching; nodes already executing are allowed to finish and
//     the blocking result is then routed to the first output node.
//
// An Engine holds no per-run state and is safe for concurrent Run calls.
//
// Example:
//
//	engine, err := graph.New(nodes.NewRegistry(deps), graph.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	res, err := engine.Run(ctx, workflow)
type Engine struct {
	registry Registry
	opts     Options
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	logger   *slog.Logger
	runID    func() string
}

// RunStatus is the final state of a run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusBlocked   RunStatus = "blocked"
	StatusCancelled RunStatus = "cancelled"
)

// RunResult is everything a run produced.
type RunResult struct {
	RunID      string            `json:"run_id"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     RunStatus         `json:"status"`
	Order      []string          `json:"order"`
	Results    map[string]Result `json:"results"`
	Trace      Trace             `json:"execution_log"`

	// BlockedBy is the node whose result halted the run.
	BlockedBy string `json:"blocked_by,omitempty"`

	// TerminalNode is the output node that received the blocking result.
	TerminalNode string `json:"terminal_node,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall-clock time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Executed returns the IDs of nodes that produced a result, in topological
// order.
func (r *RunResult) Executed() []string {
	var ids []string
	for _, id := range r.Order {
		if _, ok := r.Results[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// FinalOutput picks the result a caller should present: the terminal node
// after a block, otherwise the last node of outputKind that ran, otherwise
// the last node that ran.
func (r *RunResult) FinalOutput(outputKind string) (string, Result, bool) {
	if r.TerminalNode != "" {
		res, ok := r.Results[r.TerminalNode]
		return r.TerminalNode, res, ok
	}

	executed := r.Executed()
	if len(executed) == 0 {
		return "", Result{}, false
	}
	kinds := make(map[string]string, len(r.Trace))
	for _, e := range r.Trace {
		kinds[e.NodeID] = e.Kind
	}
	for i := len(executed) - 1; i >= 0; i-- {
		if kinds[executed[i]] == outputKind {
			return executed[i], r.Results[executed[i]], true
		}
	}
	last := executed[len(executed)-1]
	return last, r.Results[last], true
}

// New creates an Engine resolving node kinds through registry.
func New(registry Registry, options ...Option) (*Engine, error) {
	if registry == nil {
		return nil, &EngineError{Message: "registry is required", Code: CodeInvalidOption}
	}

	cfg := &engineConfig{
		opts: Options{
			MaxConcurrentNodes: DefaultMaxConcurrent,
			TerminalKind:       DefaultTerminalKind,
		},
	}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		registry: registry,
		opts:     cfg.opts,
		emitter:  cfg.emitter,
		metrics:  cfg.metrics,
		logger:   cfg.logger,
		runID:    cfg.runID,
	}
	if e.opts.MaxConcurrentNodes <= 0 {
		e.opts.MaxConcurrentNodes = DefaultMaxConcurrent
	}
	if e.emitter == nil {
		e.emitter = emit.NewNullEmitter()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.runID == nil {
		e.runID = uuid.NewString
	}
	return e, nil
}

// mergeOptions overlays the non-zero fields of src onto dst.
func mergeOptions(dst *Options, src Options) error {
	return mergo.Merge(dst, src, mergo.WithOverride)
}

// Options returns the effective engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// plan is a validated, resolved workflow ready to execute.
type plan struct {
	workflow  *Workflow
	topo      *topology
	order     []string
	position  map[string]int
	nodes     map[string]WorkflowNode
	instances map[string]Node
	terminal  string
}

// Validate performs every structural check of Run without executing any
// node: shape, acyclicity and node kind resolution.
func (e *Engine) Validate(w *Workflow) error {
	_, err := e.prepare(w)
	return err
}

func (e *Engine) prepare(w *Workflow) (*plan, error) {
	order, err := TopologicalOrder(w)
	if err != nil {
		return nil, err
	}

	p := &plan{
		workflow:  w,
		topo:      newTopology(w),
		order:     order,
		position:  make(map[string]int, len(order)),
		nodes:     make(map[string]WorkflowNode, len(w.Nodes)),
		instances: make(map[string]Node, len(w.Nodes)),
	}
	for i, id := range order {
		p.position[id] = i
	}

	for _, n := range w.Nodes {
		inst, err := e.registry.Instantiate(n.Kind)
		if err != nil {
			if errors.Is(err, ErrUnknownNodeKind) {
				return nil, &EngineError{
					Message: fmt.Sprintf("node %s: %v", n.ID, err),
					Code:    CodeUnknownNodeKind,
					NodeID:  n.ID,
					Cause:   err,
				}
			}
			return nil, &EngineError{
				Message: fmt.Sprintf("node %s: %v", n.ID, err),
				Code:    CodeInvalidNode,
				NodeID:  n.ID,
				Cause:   err,
			}
		}
		if inst == nil {
			return nil, &EngineError{
				Message: fmt.Sprintf("node %s: no implementation for subtype %q", n.ID, n.Kind),
				Code:    CodeUnknownNodeKind,
				NodeID:  n.ID,
				Cause:   ErrUnknownNodeKind,
			}
		}
		if n.Config == nil {
			n.Config = Config{}
		}
		p.nodes[n.ID] = n
		p.instances[n.ID] = inst
		if p.terminal == "" && e.opts.TerminalKind != "" && n.Kind == e.opts.TerminalKind {
			p.terminal = n.ID
		}
	}
	return p, nil
}

// Run executes w and returns its results and trace.
//
// Structural errors are returned before any node executes, with a nil
// RunResult. A cancelled context stops dispatching; the partial RunResult is
// returned together with the context error.
func (e *Engine) Run(ctx context.Context, w *Workflow) (*RunResult, error) {
	p, err := e.prepare(w)
	if err != nil {
		e.logger.Warn("workflow rejected", "workflow", workflowLabel(w), "error", err)
		if e.metrics != nil {
			e.metrics.IncrementRuns("rejected")
		}
		return nil, err
	}

	r := &run{
		engine:    e,
		plan:      p,
		id:        e.runID(),
		results:   make(map[string]Result, len(p.order)),
		remaining: make(map[string]int, len(p.order)),
	}
	for id, d := range p.topo.indegree {
		r.remaining[id] = d
	}
	return r.execute(ctx)
}

func workflowLabel(w *Workflow) string {
	if w == nil {
		return ""
	}
	if w.ID != "" {
		return w.ID
	}
	return w.Name
}

// run holds the mutable state of one execution. Only the dispatch loop
// touches it; node goroutines communicate through the completion channel.
type run struct {
	engine *Engine
	plan   *plan
	id     string

	started   time.Time
	results   map[string]Result
	entries   []TraceEntry
	terminal  *TraceEntry
	remaining map[string]int
	ready     []string
	inflight  int
	blockedBy string
	cancelled bool
}

type completion struct {
	nodeID   string
	result   Result
	duration time.Duration
	finished time.Time
}

func (r *run) execute(ctx context.Context) (*RunResult, error) {
	e := r.engine
	r.started = time.Now()
	r.emit("run_start", "", 0, map[string]interface{}{
		"workflow_id": workflowLabel(r.plan.workflow),
		"nodes":       len(r.plan.order),
	})
	e.logger.Info("workflow run started",
		"run_id", r.id,
		"workflow", workflowLabel(r.plan.workflow),
		"nodes", len(r.plan.order),
		"max_concurrent", e.opts.MaxConcurrentNodes)

	for _, id := range r.plan.order {
		if r.remaining[id] == 0 {
			r.ready = append(r.ready, id)
		}
	}

	done := make(chan completion, len(r.plan.order))
	ctxDone := ctx.Done()
	halted := false

	for {
		if !halted && ctx.Err() != nil {
			halted, r.cancelled = true, true
		}
		for !halted && r.inflight < e.opts.MaxConcurrentNodes && len(r.ready) > 0 {
			id := r.ready[0]
			r.ready = r.ready[1:]
			r.dispatch(ctx, id, done)
		}
		r.updateGauges()
		if r.inflight == 0 {
			break
		}

		select {
		case c := <-done:
			r.inflight--
			r.record(c)
			if c.result.Blocked && r.blockedBy == "" && !r.cancelled {
				r.blockedBy = c.nodeID
				halted = true
				e.logger.Info("workflow blocked",
					"run_id", r.id,
					"node", c.nodeID,
					"inflight", r.inflight)
			}
			if !halted {
				r.release(c.nodeID)
			}
		case <-ctxDone:
			ctxDone = nil
			if !halted {
				halted, r.cancelled = true, true
			}
		}
	}
	r.updateGauges()

	if r.blockedBy != "" {
		r.routeBlock(ctx)
	}

	res := r.finish()
	if r.cancelled {
		return res, ctx.Err()
	}
	return res, nil
}

func (r *run) dispatch(ctx context.Context, id string, done chan<- completion) {
	node := r.plan.nodes[id]
	inst := r.plan.instances[id]
	parents := r.parentsOf(id)
	timeout := getNodeTimeout(node.Kind, r.engine.opts)

	r.inflight++
	r.emit("node_start", id, r.plan.position[id]+1, map[string]interface{}{
		"subtype": node.Kind,
		"parents": len(parents),
	})

	go func() {
		start := time.Now()
		res := executeNodeWithTimeout(ctx, inst, id, node.Config, parents, timeout)
		done <- completion{nodeID: id, result: res, duration: time.Since(start), finished: time.Now()}
	}()
}

// parentsOf collects stored predecessor results in connection order.
func (r *run) parentsOf(id string) Parents {
	preds := r.plan.topo.parents[id]
	parents := make(Parents, 0, len(preds))
	for _, pid := range preds {
		if res, ok := r.results[pid]; ok {
			parents = append(parents, Parent{NodeID: pid, Result: res.clone()})
		}
	}
	return parents
}

// release marks id finished for each of its children and queues the ones
// that became ready, keeping the queue in topological position order.
func (r *run) release(id string) {
	for _, child := range r.plan.topo.children[id] {
		r.remaining[child]--
		if r.remaining[child] != 0 {
			continue
		}
		pos := r.plan.position[child]
		i := sort.Search(len(r.ready), func(i int) bool {
			return r.plan.position[r.ready[i]] > pos
		})
		r.ready = append(r.ready, "")
		copy(r.ready[i+1:], r.ready[i:])
		r.ready[i] = child
	}
}

func (r *run) record(c completion) {
	node := r.plan.nodes[c.nodeID]
	r.results[c.nodeID] = c.result
	r.entries = append(r.entries, nodeEntry(node, c.result, c.duration, c.finished))
	r.observe(node, c.result, c.duration)
}

func (r *run) observe(node WorkflowNode, res Result, d time.Duration) {
	e := r.engine
	status := resultStatus(res)
	if e.metrics != nil {
		e.metrics.RecordNodeLatency(node.Kind, d, status)
	}

	meta := map[string]interface{}{
		"subtype":     node.Kind,
		"status":      status,
		"duration_ms": d.Milliseconds(),
	}
	msg := "node_end"
	if !res.Success {
		meta["error"] = res.Error
		if !res.Blocked {
			msg = "node_error"
		}
	}
	if res.Blocked {
		meta["blocked"] = true
	}
	r.emit(msg, node.ID, r.plan.position[node.ID]+1, meta)

	e.logger.Debug("node executed",
		"run_id", r.id,
		"node", node.ID,
		"subtype", node.Kind,
		"status", status,
		"duration", d)
}

func resultStatus(res Result) string {
	switch {
	case res.Blocked:
		return "blocked"
	case res.Success:
		return "success"
	case strings.Contains(res.Error, ErrNodeTimeout.Error()):
		return "timeout"
	default:
		return "error"
	}
}

// routeBlock re-invokes the first output node with the blocking result as
// its only parent. Its result replaces any earlier result of that node.
func (r *run) routeBlock(ctx context.Context) {
	term := r.plan.terminal
	if term == "" || term == r.blockedBy {
		r.engine.logger.Warn("blocked run has no output node to route to",
			"run_id", r.id,
			"blocked_by", r.blockedBy)
		return
	}

	node := r.plan.nodes[term]
	parents := Parents{{NodeID: r.blockedBy, Result: r.results[r.blockedBy].clone()}}
	start := time.Now()
	res := executeNodeWithTimeout(ctx, r.plan.instances[term], term, node.Config, parents, getNodeTimeout(node.Kind, r.engine.opts))
	d := time.Since(start)

	r.results[term] = res
	entry := nodeEntry(node, res, d, time.Now())
	entry.Terminal = true
	r.terminal = &entry
	r.observe(node, res, d)
}

func (r *run) finish() *RunResult {
	e := r.engine
	finished := time.Now()

	status := StatusCompleted
	final := TraceRunCompleted
	switch {
	case r.cancelled:
		status, final = StatusCancelled, TraceRunCancelled
	case r.blockedBy != "":
		status, final = StatusBlocked, TraceRunBlocked
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.plan.position[r.entries[i].NodeID] < r.plan.position[r.entries[j].NodeID]
	})

	trace := make(Trace, 0, len(r.entries)+3)
	trace = append(trace, TraceEntry{
		Event:     TraceRunStarted,
		Timestamp: r.started,
	})
	trace = append(trace, r.entries...)
	if r.terminal != nil {
		trace = append(trace, *r.terminal)
	}
	total := finished.Sub(r.started)
	trace = append(trace, TraceEntry{
		Event:      final,
		NodeID:     r.blockedBy,
		Success:    status == StatusCompleted,
		Blocked:    status == StatusBlocked,
		Duration:   total,
		DurationMS: total.Milliseconds(),
		Timestamp:  finished,
	})

	res := &RunResult{
		RunID:      r.id,
		WorkflowID: r.plan.workflow.ID,
		Status:     status,
		Order:      append([]string(nil), r.plan.order...),
		Results:    r.results,
		Trace:      trace,
		BlockedBy:  r.blockedBy,
		StartedAt:  r.started,
		FinishedAt: finished,
	}
	if r.terminal != nil {
		res.TerminalNode = r.plan.terminal
	}

	if e.metrics != nil {
		e.metrics.IncrementRuns(string(status))
		if status == StatusBlocked {
			e.metrics.IncrementBlocks(r.plan.nodes[r.blockedBy].Kind)
		}
	}

	meta := map[string]interface{}{
		"status":      string(status),
		"executed":    len(r.results),
		"duration_ms": total.Milliseconds(),
	}
	switch status {
	case StatusBlocked:
		meta["blocked_by"] = r.blockedBy
		r.emit("run_blocked", "", 0, meta)
	case StatusCancelled:
		r.emit("run_cancelled", "", 0, meta)
	default:
		r.emit("run_complete", "", 0, meta)
	}

	e.logger.Info("workflow run finished",
		"run_id", r.id,
		"status", status,
		"executed", len(r.results),
		"duration", total)
	return res
}

func (r *run) updateGauges() {
	if m := r.engine.metrics; m != nil {
		m.UpdateInflightNodes(r.inflight)
		m.UpdateReadyNodes(len(r.ready))
	}
}

func (r *run) emit(msg, nodeID string, step int, meta map[string]interface{}) {
	r.engine.emitter.Emit(emit.Event{
		RunID:  r.id,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}
