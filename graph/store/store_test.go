package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/store"
)

// storeFactories returns every Store implementation available in this
// environment. MySQL runs only when TEST_MYSQL_DSN is set and expects an
// empty database.
func storeFactories(t *testing.T) map[string]func(t *testing.T) store.Store {
	t.Helper()
	factories := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemStore() },
		"sqlite": func(t *testing.T) store.Store {
			st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return st
		},
	}
	if dsn := os.Getenv("TEST_MYSQL_DSN"); dsn != "" {
		factories["mysql"] = func(t *testing.T) store.Store {
			st, err := store.NewMySQLStore(dsn)
			if err != nil {
				t.Fatalf("NewMySQLStore() error = %v", err)
			}
			return st
		}
	}
	return factories
}

func forEachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			defer func() { _ = st.Close() }()
			fn(t, st)
		})
	}
}

func sampleWorkflow(id string) *graph.Workflow {
	return &graph.Workflow{
		ID: id,
		Nodes: []graph.WorkflowNode{
			{ID: "in", Kind: "input", Name: "Input", Config: graph.Config{"value": "hello"}, Position: &graph.Position{X: 10, Y: 20}},
			{ID: "out", Kind: "output"},
		},
		Connections: []graph.Connection{{Source: "in", Target: "out"}},
	}
}

func sampleRun(id, workflowID string, status graph.RunStatus, started time.Time) *graph.RunResult {
	return &graph.RunResult{
		RunID:      id,
		WorkflowID: workflowID,
		Status:     status,
		Order:      []string{"in", "out"},
		Results: map[string]graph.Result{
			"in":  graph.Succeed("hello").WithMeta("input_type", "text"),
			"out": graph.Succeed("hello"),
		},
		Trace:      graph.Trace{{Event: graph.TraceRunStarted, Timestamp: started}},
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}
}

func TestStore_WorkflowCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()

		w := sampleWorkflow("wf-1")
		if err := st.SaveWorkflow(ctx, w); err != nil {
			t.Fatalf("SaveWorkflow() error = %v", err)
		}
		if w.CreatedAt == "" || w.UpdatedAt == "" {
			t.Error("SaveWorkflow should stamp timestamps")
		}
		if w.Name != "Untitled Workflow" {
			t.Errorf("Name = %q, want default name", w.Name)
		}

		got, err := st.GetWorkflow(ctx, "wf-1")
		if err != nil {
			t.Fatalf("GetWorkflow() error = %v", err)
		}
		if len(got.Nodes) != 2 || got.Nodes[0].Kind != "input" || got.Nodes[0].Config.String("value") != "hello" {
			t.Errorf("GetWorkflow() nodes = %+v", got.Nodes)
		}
		if got.Nodes[0].Position == nil || got.Nodes[0].Position.Y != 20 {
			t.Errorf("position not preserved: %+v", got.Nodes[0].Position)
		}

		created := w.CreatedAt
		w2 := sampleWorkflow("wf-1")
		w2.Name = "Renamed"
		if err := st.SaveWorkflow(ctx, w2); err != nil {
			t.Fatalf("SaveWorkflow() update error = %v", err)
		}
		got, _ = st.GetWorkflow(ctx, "wf-1")
		if got.Name != "Renamed" || got.CreatedAt != created {
			t.Errorf("update: name = %q createdAt = %q, want Renamed/%q", got.Name, got.CreatedAt, created)
		}

		if err := st.SaveWorkflow(ctx, sampleWorkflow("wf-0")); err != nil {
			t.Fatal(err)
		}
		list, err := st.ListWorkflows(ctx)
		if err != nil {
			t.Fatalf("ListWorkflows() error = %v", err)
		}
		if len(list) != 2 || list[0].ID != "wf-0" || list[1].ID != "wf-1" {
			t.Errorf("ListWorkflows() = %d items", len(list))
		}

		if err := st.DeleteWorkflow(ctx, "wf-1"); err != nil {
			t.Fatalf("DeleteWorkflow() error = %v", err)
		}
		if _, err := st.GetWorkflow(ctx, "wf-1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetWorkflow() after delete error = %v, want ErrNotFound", err)
		}
		if err := st.DeleteWorkflow(ctx, "wf-1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("second DeleteWorkflow() error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_InvalidWorkflow(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		if err := st.SaveWorkflow(context.Background(), &graph.Workflow{Name: "no id"}); !errors.Is(err, store.ErrInvalidWorkflow) {
			t.Errorf("SaveWorkflow() error = %v, want ErrInvalidWorkflow", err)
		}
	})
}

func TestStore_Runs(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		runs := []*graph.RunResult{
			sampleRun("r1", "wf-a", graph.StatusCompleted, base),
			sampleRun("r2", "wf-b", graph.StatusBlocked, base.Add(time.Minute)),
			sampleRun("r3", "wf-a", graph.StatusCompleted, base.Add(2*time.Minute)),
		}
		runs[1].BlockedBy = "guard"
		for _, r := range runs {
			if err := st.SaveRun(ctx, r); err != nil {
				t.Fatalf("SaveRun(%s) error = %v", r.RunID, err)
			}
		}

		got, err := st.GetRun(ctx, "r2")
		if err != nil {
			t.Fatalf("GetRun() error = %v", err)
		}
		if got.Status != graph.StatusBlocked || got.BlockedBy != "guard" {
			t.Errorf("GetRun() = %+v", got)
		}
		if got.Results["in"].Data != "hello" || got.Results["in"].Meta["input_type"] != "text" {
			t.Errorf("results not preserved: %+v", got.Results)
		}
		if !got.StartedAt.Equal(runs[1].StartedAt) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, runs[1].StartedAt)
		}

		all, err := st.ListRuns(ctx, store.RunFilter{})
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if ids := runIDs(all); !equal(ids, []string{"r3", "r2", "r1"}) {
			t.Errorf("ListRuns() = %v, want newest first", ids)
		}
		if all[0].DurationMS != 1500 {
			t.Errorf("DurationMS = %d, want 1500", all[0].DurationMS)
		}

		byWorkflow, _ := st.ListRuns(ctx, store.RunFilter{WorkflowID: "wf-a", Limit: 1})
		if ids := runIDs(byWorkflow); !equal(ids, []string{"r3"}) {
			t.Errorf("ListRuns(wf-a, 1) = %v", ids)
		}
		blocked, _ := st.ListRuns(ctx, store.RunFilter{Status: graph.StatusBlocked})
		if ids := runIDs(blocked); !equal(ids, []string{"r2"}) {
			t.Errorf("ListRuns(blocked) = %v", ids)
		}

		if _, err := st.GetRun(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetRun(missing) error = %v", err)
		}
	})
}

func TestStore_SaveRunReplaces(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		now := time.Now()
		_ = st.SaveRun(ctx, sampleRun("r1", "wf", graph.StatusCancelled, now))
		if err := st.SaveRun(ctx, sampleRun("r1", "wf", graph.StatusCompleted, now)); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}

		list, _ := st.ListRuns(ctx, store.RunFilter{})
		if len(list) != 1 || list[0].Status != graph.StatusCompleted {
			t.Errorf("ListRuns() = %+v, want one completed run", list)
		}
	})
}

func TestStore_Closed(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			if err := st.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if err := st.Close(); err != nil {
				t.Errorf("second Close() error = %v", err)
			}
			if _, err := st.GetWorkflow(context.Background(), "x"); !errors.Is(err, store.ErrClosed) {
				t.Errorf("GetWorkflow() after Close error = %v, want ErrClosed", err)
			}
		})
	}
}

func TestStore_Concurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := string(rune('a' + i))
				if err := st.SaveRun(ctx, sampleRun(id, "wf", graph.StatusCompleted, time.Now())); err != nil {
					t.Errorf("SaveRun() error = %v", err)
				}
				if _, err := st.ListRuns(ctx, store.RunFilter{Limit: 5}); err != nil {
					t.Errorf("ListRuns() error = %v", err)
				}
			}(i)
		}
		wg.Wait()

		list, _ := st.ListRuns(ctx, store.RunFilter{})
		if len(list) != 20 {
			t.Errorf("ListRuns() = %d runs, want 20", len(list))
		}
	})
}

func TestOpen(t *testing.T) {
	st, err := store.Open("memory", "")
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := st.(*store.MemStore); !ok {
		t.Errorf("Open(memory) = %T", st)
	}

	path := filepath.Join(t.TempDir(), "open.db")
	st, err = store.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer func() { _ = st.Close() }()
	if sq, ok := st.(*store.SQLiteStore); !ok || sq.Path() != path {
		t.Errorf("Open(sqlite) = %T", st)
	}

	if _, err := store.Open("cassandra", ""); err == nil {
		t.Error("Open(cassandra) should fail")
	}
	if _, err := store.Open("mysql", ""); err == nil {
		t.Error("Open(mysql) without DSN should fail")
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	st, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveWorkflow(ctx, sampleWorkflow("keep")); err != nil {
		t.Fatal(err)
	}
	if err := st.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	_ = st.Close()

	reopened, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()
	if _, err := reopened.GetWorkflow(ctx, "keep"); err != nil {
		t.Errorf("workflow lost after reopen: %v", err)
	}
}

func runIDs(list []store.RunSummary) []string {
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.RunID
	}
	return ids
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
