package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/agentflow/graph"
)

// MemStore is an in-memory implementation of Store.
//
// Values are stored as JSON so that callers never share memory with the
// store, matching what the database-backed stores return.
//
// Limitations:
//   - Data is lost when the process terminates
//   - Memory usage grows with run history
type MemStore struct {
	mu        sync.RWMutex
	workflows map[string]string
	runs      map[string]string
	summaries []RunSummary
	closed    bool
	now       func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		workflows: make(map[string]string),
		runs:      make(map[string]string),
		now:       time.Now,
	}
}

// SaveWorkflow implements Store.
func (m *MemStore) SaveWorkflow(_ context.Context, w *graph.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	var createdAt string
	if w != nil {
		if existing, ok := m.workflows[w.ID]; ok {
			if prev, err := decode[graph.Workflow](existing); err == nil {
				createdAt = prev.CreatedAt
			}
		}
	}
	if err := stamp(w, createdAt, m.now()); err != nil {
		return err
	}

	data, err := encode(w)
	if err != nil {
		return err
	}
	m.workflows[w.ID] = data
	return nil
}

// GetWorkflow implements Store.
func (m *MemStore) GetWorkflow(_ context.Context, id string) (*graph.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decode[graph.Workflow](data)
}

// ListWorkflows implements Store.
func (m *MemStore) ListWorkflows(_ context.Context) ([]*graph.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	ids := make([]string, 0, len(m.workflows))
	for id := range m.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*graph.Workflow, 0, len(ids))
	for _, id := range ids {
		w, err := decode[graph.Workflow](m.workflows[id])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// DeleteWorkflow implements Store.
func (m *MemStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	return nil
}

// SaveRun implements Store.
func (m *MemStore) SaveRun(_ context.Context, run *graph.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	data, err := encode(run)
	if err != nil {
		return err
	}
	if _, exists := m.runs[run.RunID]; exists {
		for i := range m.summaries {
			if m.summaries[i].RunID == run.RunID {
				m.summaries = append(m.summaries[:i], m.summaries[i+1:]...)
				break
			}
		}
	}
	m.runs[run.RunID] = data
	m.summaries = append(m.summaries, summarize(run))
	return nil
}

// GetRun implements Store.
func (m *MemStore) GetRun(_ context.Context, runID string) (*graph.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return decode[graph.RunResult](data)
}

// ListRuns implements Store.
func (m *MemStore) ListRuns(_ context.Context, filter RunFilter) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]RunSummary, 0)
	for i := len(m.summaries) - 1; i >= 0; i-- {
		s := m.summaries[i]
		if !filter.match(s) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close implements Store.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
