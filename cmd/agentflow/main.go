// Command agentflow runs and serves workflow graphs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentflow",
		Short: "Execute workflows of LLM agents and tools",
		Long: `agentflow executes directed acyclic workflows whose nodes call language
models, search the web, extract documents and enforce guardrails.

Workflows are JSON, YAML or HCL files. Example:
  agentflow run examples/workflows/research.hcl
  agentflow serve --addr :8000
  agentflow mcp`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newNodesCmd(),
		newServeCmd(),
		newMCPCmd(),
	)
	return rootCmd
}
