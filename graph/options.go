package graph

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/agentflow/graph/emit"
)

// DefaultMaxConcurrent is the worker count used when no option overrides it.
const DefaultMaxConcurrent = 4

// DefaultTerminalKind is the node kind that receives a blocking result.
const DefaultTerminalKind = "output"

// Options configures Engine execution behavior.
type Options struct {
	// MaxConcurrentNodes bounds how many ready nodes execute at once.
	// 1 executes nodes strictly in topological order.
	MaxConcurrentNodes int

	// DefaultNodeTimeout bounds a single node execution. 0 means unlimited.
	DefaultNodeTimeout time.Duration

	// KindTimeouts overrides DefaultNodeTimeout per node kind.
	KindTimeouts map[string]time.Duration

	// TerminalKind is the kind whose first declared node is re-invoked with
	// the blocking result when a node blocks. Empty disables routing.
	TerminalKind string
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(registry,
//	    graph.WithMaxConcurrent(8),
//	    graph.WithDefaultNodeTimeout(30*time.Second),
//	    graph.WithLogger(logger),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts    Options
	emitter emit.Emitter
	metrics *PrometheusMetrics
	logger  *slog.Logger
	runID   func() string
}

// WithMaxConcurrent sets the maximum number of nodes executing concurrently.
//
// Default: 4. Use 1 for sequential execution in exact topological order.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &EngineError{
				Message: fmt.Sprintf("max concurrent must be at least 1, got %d", n),
				Code:    CodeInvalidOption,
			}
		}
		cfg.opts.MaxConcurrentNodes = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the maximum execution time for every node.
//
// A node that exceeds it gets a failed Result; the run continues.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "node timeout must not be negative", Code: CodeInvalidOption}
		}
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithKindTimeout overrides the node timeout for one node kind.
func WithKindTimeout(kind string, d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if cfg.opts.KindTimeouts == nil {
			cfg.opts.KindTimeouts = make(map[string]time.Duration)
		}
		cfg.opts.KindTimeouts[kind] = d
		return nil
	}
}

// WithTerminalKind changes which node kind receives blocking results.
// An empty kind disables block routing.
func WithTerminalKind(kind string) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.TerminalKind = kind
		return nil
	}
}

// WithEmitter sets the observability event sink.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the structured logger used for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithRunIDFunc replaces the run ID generator (uuid by default).
func WithRunIDFunc(f func() string) Option {
	return func(cfg *engineConfig) error {
		cfg.runID = f
		return nil
	}
}

// WithOptions overlays the non-zero fields of o onto the current options.
// Zero fields keep their defaults; use WithTerminalKind("") to disable
// block routing.
func WithOptions(o Options) Option {
	return func(cfg *engineConfig) error {
		if o.MaxConcurrentNodes < 0 {
			return &EngineError{Message: "max concurrent must not be negative", Code: CodeInvalidOption}
		}
		if err := mergeOptions(&cfg.opts, o); err != nil {
			return &EngineError{Message: "merge options: " + err.Error(), Code: CodeInvalidOption, Cause: err}
		}
		return nil
	}
}
