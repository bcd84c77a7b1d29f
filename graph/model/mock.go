package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Responses are returned in order; once exhausted the last one repeats. A
// non-nil Err is returned from every call. All calls are recorded.
//
//	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: `{"allowed": true}`}}}
//	gen := model.FromChatModel(mock)
type MockChatModel struct {
	Responses []ChatOut
	Err       error
	Calls     []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records one Chat invocation.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Prompts returns the content of the last message of every call.
func (m *MockChatModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		if len(c.Messages) > 0 {
			out = append(out, c.Messages[len(c.Messages)-1].Content)
		}
	}
	return out
}

// Reset clears recorded calls and rewinds the responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
