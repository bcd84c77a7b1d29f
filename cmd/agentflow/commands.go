package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/graph/nodes"
	"github.com/dshills/agentflow/internal/xjson"
	"github.com/dshills/agentflow/workflowfile"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>...",
		Short: "Check workflow files without executing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			// Validation never calls a model, so a missing API key must not
			// make agent nodes unresolvable.
			if a.providerErr != nil {
				a.registry = newRegistry(a.cfg, model.Echo(), a.logger)
			}
			engine, err := a.engine(nil)
			if err != nil {
				return err
			}

			failed := 0
			out := cmd.OutOrStdout()
			for _, path := range args {
				wf, err := workflowfile.Load(path)
				if err == nil {
					err = engine.Validate(wf)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok (%d nodes, %d connections)\n", path, len(wf.Nodes), len(wf.Connections))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workflows invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the available node kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			catalog := a.registry.Catalog()
			out := cmd.OutOrStdout()
			if asJSON {
				data, err := xjson.MarshalIndent(catalog, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tTYPE\tNAME\tDESCRIPTION")
			for _, cat := range []nodes.Category{nodes.CategorySpecial, nodes.CategoryAgent, nodes.CategoryTool} {
				for _, m := range catalog[cat] {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cat, m.Kind, m.Name, m.Description)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print the catalog as JSON")
	return cmd
}
