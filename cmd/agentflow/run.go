package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/emit"
	"github.com/dshills/agentflow/graph/nodes"
	"github.com/dshills/agentflow/graph/store"
	"github.com/dshills/agentflow/internal/xjson"
	"github.com/dshills/agentflow/workflowfile"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow file",
		Long: `Execute a JSON, YAML or HCL workflow and print the result.

With --watch the workflow is executed again every time the file changes.`,
		Args: cobra.ExactArgs(1),
		RunE: runWorkflowCmd,
	}

	cmd.Flags().BoolP("watch", "w", false, "Re-run when the workflow file changes")
	cmd.Flags().Bool("sequential", false, "Execute one node at a time in topological order")
	cmd.Flags().Bool("json", false, "Print the full run result as JSON")
	cmd.Flags().Bool("events", false, "Stream execution events to stderr")
	return cmd
}

type runFlags struct {
	watch, sequential, json, events bool
}

func parseRunFlags(cmd *cobra.Command) (runFlags, error) {
	var f runFlags
	var err error
	if f.watch, err = cmd.Flags().GetBool("watch"); err != nil {
		return f, err
	}
	if f.sequential, err = cmd.Flags().GetBool("sequential"); err != nil {
		return f, err
	}
	if f.json, err = cmd.Flags().GetBool("json"); err != nil {
		return f, err
	}
	if f.events, err = cmd.Flags().GetBool("events"); err != nil {
		return f, err
	}
	return f, nil
}

func runWorkflowCmd(cmd *cobra.Command, args []string) error {
	flags, err := parseRunFlags(cmd)
	if err != nil {
		return err
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var extra []emit.Emitter
	if flags.events {
		extra = append(extra, emit.NewLogEmitter(cmd.ErrOrStderr(), a.cfg.Logging.Format == "json"))
	}
	var opts []graph.Option
	if flags.sequential {
		opts = append(opts, graph.WithMaxConcurrent(1))
	}
	engine, err := a.engine(extra, opts...)
	if err != nil {
		return err
	}

	var st store.Store
	if a.cfg.Store.Driver != "memory" && a.cfg.Store.Driver != "mem" {
		st, err = store.Open(a.cfg.Store.Driver, a.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := args[0]
	once := func() error {
		res, err := executeFile(ctx, engine, path)
		if err != nil {
			return a.explain(err)
		}
		if st != nil {
			if err := st.SaveRun(context.WithoutCancel(ctx), res); err != nil {
				a.logger.Warn("failed to record run", "run_id", res.RunID, "error", err)
			}
		}
		return printRun(cmd.OutOrStdout(), res, flags.json)
	}

	if !flags.watch {
		return once()
	}

	if err := once(); err != nil {
		a.logger.Error("run failed", "file", path, "error", err)
	}
	return watchFile(ctx, path, a.logger, time.Second, func() {
		if err := once(); err != nil {
			a.logger.Error("run failed", "file", path, "error", err)
		}
	})
}

func executeFile(ctx context.Context, engine *graph.Engine, path string) (*graph.RunResult, error) {
	wf, err := workflowfile.Load(path)
	if err != nil {
		return nil, err
	}
	res, err := engine.Run(ctx, wf)
	if err != nil && res == nil {
		return nil, err
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return res, nil
}

func printRun(w io.Writer, res *graph.RunResult, asJSON bool) error {
	if asJSON {
		data, err := xjson.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "run %s %s in %s\n", res.RunID, res.Status, res.Duration().Round(time.Millisecond))
	for _, e := range res.Trace {
		if e.Event != graph.TraceNodeExecuted {
			continue
		}
		mark := "ok"
		switch {
		case e.Blocked:
			mark = "BLOCKED"
		case !e.Success:
			mark = "FAILED"
		}
		fmt.Fprintf(w, "  %-8s %s (%s) %dms", mark, e.NodeName, e.Kind, e.DurationMS)
		if e.Error != "" {
			fmt.Fprintf(w, ": %s", e.Error)
		}
		fmt.Fprintln(w)
	}

	if id, out, ok := res.FinalOutput(nodes.KindOutput); ok {
		fmt.Fprintf(w, "\nOutput (%s):\n%s\n", id, strings.TrimRight(out.Text(), "\n"))
	}
	return nil
}
