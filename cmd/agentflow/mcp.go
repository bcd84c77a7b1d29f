package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/agentflow/graph/store"
	"github.com/dshills/agentflow/server/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve workflow tools to an MCP client over stdio",
		Long: `mcp speaks the Model Context Protocol on stdin and stdout, exposing
nodes.list, workflow.validate, workflow.run, workflow.list, runs.get and
runs.list. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	engine, err := a.engine(nil)
	if err != nil {
		return err
	}

	st, err := store.Open(a.cfg.Store.Driver, a.cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv, err := mcp.New(mcp.Options{
		Engine:   engine,
		Registry: a.registry,
		Store:    st,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("agentflow mcp", "provider", a.cfg.LLM.Name, "store", a.cfg.Store.Driver)
	return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
