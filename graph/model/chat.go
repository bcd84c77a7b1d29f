// Package model defines the LLM abstraction used by agent nodes.
//
// Two shapes are offered. ChatModel is the provider-facing interface with
// role-tagged messages and tool specs; the google, openai and anthropic
// subpackages implement it. TextGenerator is the prompt-in, text-out
// callable that agent nodes consume; FromChatModel adapts one to the other.
package model

import (
	"context"
	"fmt"
)

// ChatModel is a chat-completion provider.
type ChatModel interface {
	// Chat sends messages and returns the model's reply. tools may be nil.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// Standard roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is the model's reply.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// ProviderError wraps a failed provider call with its HTTP status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	return code == 429 || code >= 500
}
