package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// getNodeTimeout picks the timeout for a node: the per-kind override wins,
// then the engine default, then 0 (unlimited).
func getNodeTimeout(kind string, opts Options) time.Duration {
	if d, ok := opts.KindTimeouts[kind]; ok && d > 0 {
		return d
	}
	if opts.DefaultNodeTimeout > 0 {
		return opts.DefaultNodeTimeout
	}
	return 0
}

// executeNodeWithTimeout runs one node and always returns a Result.
//
// The node runs on its own goroutine so a node that ignores its context
// cannot hold the run past the timeout or past cancellation; its late result
// is discarded. Panics are recovered into failed results.
func executeNodeWithTimeout(ctx context.Context, node Node, nodeID string, cfg Config, parents Parents, timeout time.Duration) Result {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- safeExecute(runCtx, node, nodeID, cfg, parents)
	}()

	select {
	case r := <-done:
		if !r.Success && !r.Blocked && timedOut(ctx, runCtx) {
			return timeoutResult(nodeID, timeout)
		}
		return r
	case <-runCtx.Done():
		if timedOut(ctx, runCtx) {
			return timeoutResult(nodeID, timeout)
		}
		return Failf("node %s cancelled: %v", nodeID, ctx.Err())
	}
}

func timedOut(parent, child context.Context) bool {
	return parent.Err() == nil && errors.Is(child.Err(), context.DeadlineExceeded)
}

func timeoutResult(nodeID string, timeout time.Duration) Result {
	return Failf("node %s: %v (%v)", nodeID, ErrNodeTimeout, timeout)
}

func safeExecute(ctx context.Context, node Node, nodeID string, cfg Config, parents Parents) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			r = Result{Success: false, Error: fmt.Sprintf("node %s panicked: %v", nodeID, p)}
		}
	}()
	return node.Execute(ctx, cfg, parents)
}
