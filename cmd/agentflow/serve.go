package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/store"
	"github.com/dshills/agentflow/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.address)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		a.cfg.Server.Address = addr
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := a.engine(nil, graph.WithMetrics(graph.NewPrometheusMetrics(promReg)))
	if err != nil {
		return err
	}

	st, err := store.Open(a.cfg.Store.Driver, a.cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv, err := server.New(server.Options{
		Engine:    engine,
		Registry:  a.registry,
		Store:     st,
		UploadDir: a.cfg.Server.UploadDir,
		Provider:  a.cfg.LLM.Name,
		Gatherer:  promReg,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("agentflow api",
		"addr", a.cfg.Server.Address,
		"provider", a.cfg.LLM.Name,
		"store", a.cfg.Store.Driver,
		"tracing", a.tracing,
	)
	return srv.ListenAndServe(ctx, a.cfg.Server.Address, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
}
