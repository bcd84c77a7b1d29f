package graph

import (
	"fmt"
	"sort"
	"strings"
)

// topology is the adjacency view of a validated workflow.
type topology struct {
	ids      []string            // declaration order
	children map[string][]string // one entry per connection
	parents  map[string][]string // deduplicated, connection order
	indegree map[string]int
}

func newTopology(w *Workflow) *topology {
	t := &topology{
		ids:      make([]string, 0, len(w.Nodes)),
		children: make(map[string][]string, len(w.Nodes)),
		parents:  make(map[string][]string, len(w.Nodes)),
		indegree: make(map[string]int, len(w.Nodes)),
	}
	for _, n := range w.Nodes {
		t.ids = append(t.ids, n.ID)
		t.indegree[n.ID] = 0
	}
	for _, c := range w.Connections {
		t.children[c.Source] = append(t.children[c.Source], c.Target)
		t.indegree[c.Target]++
		if !contains(t.parents[c.Target], c.Source) {
			t.parents[c.Target] = append(t.parents[c.Target], c.Source)
		}
	}
	return t
}

// sort runs Kahn's algorithm with a FIFO queue seeded in declaration order.
func (t *topology) sort() ([]string, error) {
	indegree := make(map[string]int, len(t.indegree))
	for id, d := range t.indegree {
		indegree[id] = d
	}

	queue := make([]string, 0, len(t.ids))
	for _, id := range t.ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(t.ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, child := range t.children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(t.ids) {
		var stuck []string
		for _, id := range t.ids {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &EngineError{
			Message: fmt.Sprintf("workflow contains a cycle through %s", strings.Join(stuck, ", ")),
			Code:    CodeCycleDetected,
			Cause:   ErrCycleDetected,
		}
	}
	return order, nil
}

// TopologicalOrder validates w and returns its execution order.
//
// Nodes with no incoming connections are dequeued in declaration order and
// children become ready in connection declaration order, so the result is
// deterministic for a given workflow document.
func TopologicalOrder(w *Workflow) ([]string, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return newTopology(w).sort()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
