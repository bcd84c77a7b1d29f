package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests.
//
// Responses are returned in order; once exhausted the last one repeats.
type MockTool struct {
	ToolName  string
	Desc      string
	Responses []map[string]interface{}
	Err       error
	Calls     []MockToolCall
	mu        sync.Mutex
	callIndex int
}

// MockToolCall records one Call invocation.
type MockToolCall struct {
	Input map[string]interface{}
}

// Name implements Tool.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Description implements Describer.
func (m *MockTool) Description() string {
	if m.Desc == "" {
		return "Mock tool " + m.ToolName
	}
	return m.Desc
}

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears recorded calls and rewinds the responses.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Call invocations.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
