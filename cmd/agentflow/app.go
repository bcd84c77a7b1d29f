package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/dshills/agentflow/config"
	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/emit"
	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/graph/model/provider"
	"github.com/dshills/agentflow/graph/nodes"
	"github.com/dshills/agentflow/graph/tool"
	"github.com/dshills/agentflow/internal/telemetry"
)

// app holds what every subcommand builds from the configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *nodes.Registry

	// providerErr explains why agent nodes have no generator.
	providerErr error

	tracing  bool
	shutdown telemetry.Shutdown
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	gen, perr := provider.NewGenerator(cfg.LLM)
	if perr != nil {
		logger.Warn("LLM provider unavailable; agent nodes disabled", "provider", cfg.LLM.Name, "error", perr)
	}

	shutdown, tracing, err := telemetry.Setup(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		providerErr: perr,
		tracing:     tracing,
		shutdown:    shutdown,
	}
	a.registry = newRegistry(cfg, gen, logger)
	return a, nil
}

func newRegistry(cfg *config.Config, gen model.TextGenerator, logger *slog.Logger) *nodes.Registry {
	search := tool.NewWebSearch(tool.WithSearchEndpoint(cfg.Tools.SearchEndpoint))
	docs := tool.NewDocumentExtractor(
		tool.WithDoclingURL(cfg.Tools.DoclingURL),
		tool.WithMaxDocumentBytes(cfg.Tools.MaxDocumentBytes),
	)
	return nodes.NewRegistry(nodes.Deps{
		Generate:  gen,
		Search:    search,
		Documents: docs,
		Tools:     tool.NewSet(search, docs, tool.NewHTTPTool(nil)),
		Logger:    logger,
	})
}

// engine builds an Engine from the configuration. The emitters always
// include the structured logger, plus OpenTelemetry spans when tracing is
// configured.
func (a *app) engine(extra []emit.Emitter, opts ...graph.Option) (*graph.Engine, error) {
	emitters := append([]emit.Emitter{emit.NewSlogEmitter(a.logger)}, extra...)
	if a.tracing {
		emitters = append(emitters, emit.NewOTelEmitter(otel.Tracer("agentflow")))
	}

	all := append(a.cfg.Engine.Options(),
		graph.WithLogger(a.logger),
		graph.WithEmitter(emit.NewMultiEmitter(emitters...)),
	)
	return graph.New(a.registry, append(all, opts...)...)
}

// explain adds the provider failure to errors caused by a missing generator.
func (a *app) explain(err error) error {
	if a.providerErr != nil && errors.Is(err, nodes.ErrNoGenerator) {
		return fmt.Errorf("%w (LLM provider: %v)", err, a.providerErr)
	}
	return err
}

func (a *app) close(ctx context.Context) {
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
}
