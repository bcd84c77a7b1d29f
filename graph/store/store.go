// Package store persists saved workflows and run history.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/internal/xjson"
)

// ErrNotFound is returned when a requested workflow or run does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store is closed")

// ErrInvalidWorkflow is returned when saving a workflow without an ID.
var ErrInvalidWorkflow = errors.New("workflow id is required")

// Store provides persistence for workflows and their runs.
//
// Implementations:
//   - MemStore: in-process maps, for tests and single-shot CLI runs
//   - SQLiteStore: single-file database, the default for the server
//   - MySQLStore: shared database for several server instances
//
// All implementations are safe for concurrent use.
type Store interface {
	// SaveWorkflow inserts or replaces a workflow by ID. It stamps
	// UpdatedAt, and CreatedAt on first save, on w itself.
	SaveWorkflow(ctx context.Context, w *graph.Workflow) error

	// GetWorkflow returns ErrNotFound for an unknown ID.
	GetWorkflow(ctx context.Context, id string) (*graph.Workflow, error)

	// ListWorkflows returns every saved workflow ordered by ID.
	ListWorkflows(ctx context.Context) ([]*graph.Workflow, error)

	// DeleteWorkflow returns ErrNotFound for an unknown ID. Runs of the
	// workflow are kept.
	DeleteWorkflow(ctx context.Context, id string) error

	// SaveRun records a finished run. Saving the same run ID twice
	// replaces the earlier record.
	SaveRun(ctx context.Context, run *graph.RunResult) error

	// GetRun returns ErrNotFound for an unknown run ID.
	GetRun(ctx context.Context, runID string) (*graph.RunResult, error)

	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error)

	Close() error
}

// RunFilter narrows ListRuns. Zero fields match everything; Limit 0 means
// no limit.
type RunFilter struct {
	WorkflowID string
	Status     graph.RunStatus
	Limit      int
}

// RunSummary is the listing form of a stored run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	Status     graph.RunStatus `json:"status"`
	BlockedBy  string          `json:"blocked_by,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
}

func summarize(r *graph.RunResult) RunSummary {
	return RunSummary{
		RunID:      r.RunID,
		WorkflowID: r.WorkflowID,
		Status:     r.Status,
		BlockedBy:  r.BlockedBy,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration().Milliseconds(),
	}
}

func (f RunFilter) match(s RunSummary) bool {
	if f.WorkflowID != "" && s.WorkflowID != f.WorkflowID {
		return false
	}
	return f.Status == "" || s.Status == f.Status
}

// stamp sets the bookkeeping timestamps of w. createdAt is the value from
// an earlier save, if any.
func stamp(w *graph.Workflow, createdAt string, now time.Time) error {
	if w == nil || strings.TrimSpace(w.ID) == "" {
		return ErrInvalidWorkflow
	}
	ts := now.UTC().Format(time.RFC3339)
	switch {
	case createdAt != "":
		w.CreatedAt = createdAt
	case w.CreatedAt == "":
		w.CreatedAt = ts
	}
	w.UpdatedAt = ts
	if w.Name == "" {
		w.Name = "Untitled Workflow"
	}
	return nil
}

// Open creates a store by driver name: "memory", "sqlite" or "mysql".
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "memory", "mem":
		return NewMemStore(), nil
	case "sqlite", "sqlite3":
		if dsn == "" {
			dsn = "agentflow.db"
		}
		st, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mysql":
		st, err := NewMySQLStore(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func encode(v any) (string, error) {
	data, err := xjson.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return string(data), nil
}

func decode[T any](data string) (*T, error) {
	var v T
	if err := xjson.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return &v, nil
}
