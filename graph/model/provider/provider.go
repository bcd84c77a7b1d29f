// Package provider builds a model.TextGenerator from configuration.
package provider

import (
	"fmt"
	"strings"

	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/graph/model/anthropic"
	"github.com/dshills/agentflow/graph/model/google"
	"github.com/dshills/agentflow/graph/model/openai"
)

// Provider names.
const (
	Google    = "google"
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Echo      = "echo"
)

// Config selects and configures an LLM provider.
type Config struct {
	Name    string `yaml:"name" json:"name"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`

	// MaxAttempts bounds calls per prompt when the provider reports a
	// transient failure. Zero or one disables retries.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// NewChatModel returns the ChatModel for cfg.Name. "gemini" is accepted as
// an alias of "google". The echo provider has no ChatModel.
func NewChatModel(cfg Config) (model.ChatModel, error) {
	switch strings.ToLower(cfg.Name) {
	case Google, "gemini", "":
		return google.NewChatModel(cfg.APIKey, cfg.Model), nil
	case OpenAI:
		return openai.NewChatModel(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case Anthropic, "claude":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Name)
	}
}

// NewGenerator returns the prompt-to-text callable for cfg.
func NewGenerator(cfg Config) (model.TextGenerator, error) {
	if n := strings.ToLower(cfg.Name); n == Echo || n == "mock" {
		return model.Echo(), nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM provider %q requires an API key", cfg.Name)
	}
	cm, err := NewChatModel(cfg)
	if err != nil {
		return nil, err
	}
	gen := model.FromChatModel(cm)
	if cfg.MaxAttempts > 1 {
		rp := model.DefaultRetryPolicy()
		rp.MaxAttempts = cfg.MaxAttempts
		gen = model.WithRetry(gen, rp)
	}
	return gen, nil
}
