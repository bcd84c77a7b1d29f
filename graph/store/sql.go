package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/agentflow/graph"
)

// dialect holds the statements that differ between database engines.
type dialect struct {
	schema         []string
	upsertWorkflow string
	upsertRun      string
}

// sqlStore implements Store over database/sql. SQLiteStore and MySQLStore
// supply the connection and dialect.
//
// Schema:
//   - workflows: one JSON document per workflow ID
//   - runs: one JSON RunResult per run ID, with indexed summary columns
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, now: time.Now}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return s, nil
}

func (s *sqlStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveWorkflow implements Store.
func (s *sqlStore) SaveWorkflow(ctx context.Context, w *graph.Workflow) error {
	if err := s.check(); err != nil {
		return err
	}
	if w == nil {
		return ErrInvalidWorkflow
	}

	var createdAt string
	err := s.db.QueryRowContext(ctx, "SELECT created_at FROM workflows WHERE id = ?", w.ID).Scan(&createdAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load workflow: %w", err)
	}
	if err := stamp(w, createdAt, s.now()); err != nil {
		return err
	}

	doc, err := encode(w)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertWorkflow, w.ID, w.Name, doc, w.CreatedAt, w.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// GetWorkflow implements Store.
func (s *sqlStore) GetWorkflow(ctx context.Context, id string) (*graph.Workflow, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM workflows WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return decode[graph.Workflow](doc)
}

// ListWorkflows implements Store.
func (s *sqlStore) ListWorkflows(ctx context.Context) ([]*graph.Workflow, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT document FROM workflows ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*graph.Workflow, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		w, err := decode[graph.Workflow](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorkflow implements Store.
func (s *sqlStore) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRun implements Store.
func (s *sqlStore) SaveRun(ctx context.Context, run *graph.RunResult) error {
	if err := s.check(); err != nil {
		return err
	}
	doc, err := encode(run)
	if err != nil {
		return err
	}
	sum := summarize(run)
	_, err = s.db.ExecContext(ctx, s.dialect.upsertRun,
		sum.RunID, sum.WorkflowID, string(sum.Status), sum.BlockedBy,
		sum.StartedAt.UnixNano(), sum.DurationMS, doc)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun implements Store.
func (s *sqlStore) GetRun(ctx context.Context, runID string) (*graph.RunResult, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT result FROM runs WHERE run_id = ?", runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return decode[graph.RunResult](doc)
}

// ListRuns implements Store.
func (s *sqlStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	query := "SELECT run_id, workflow_id, status, blocked_by, started_at, duration_ms FROM runs WHERE 1=1"
	var args []any
	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]RunSummary, 0)
	for rows.Next() {
		var (
			sum     RunSummary
			status  string
			started int64
		)
		if err := rows.Scan(&sum.RunID, &sum.WorkflowID, &status, &sum.BlockedBy, &started, &sum.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.Status = graph.RunStatus(status)
		sum.StartedAt = time.Unix(0, started)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close implements Store. Closing twice is not an error.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
