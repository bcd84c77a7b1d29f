// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/internal/xjson"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "claude-3-5-haiku-latest"

const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Anthropic.
type ChatModel struct {
	modelName string
	maxTokens int64
	client    anthropicClient
}

type anthropicClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// NewChatModel creates an Anthropic chat model.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		maxTokens: defaultMaxTokens,
		client:    &defaultClient{apiKey: apiKey},
	}
}

// ModelName returns the configured model.
func (m *ChatModel) ModelName() string {
	return m.modelName
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, msgs := convertMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	msg, err := m.client.createMessage(ctx, params)
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}
	return convertResponse(msg)
}

type defaultClient struct {
	apiKey string
}

func (c *defaultClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if c.apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(c.apiKey))
	return client.Messages.New(ctx, params)
}

// convertMessages splits out system messages, which Anthropic takes as a
// top-level parameter.
func convertMessages(messages []model.Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: tool.Schema["properties"]},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: param})
	}
	return out
}

func convertResponse(msg *anthropic.Message) (model.ChatOut, error) {
	out := model.ChatOut{}
	if msg == nil {
		return out, model.ErrEmptyResponse
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var input map[string]interface{}
			if len(block.Input) > 0 {
				if err := xjson.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, &model.ProviderError{Provider: "anthropic", Err: err}
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: block.Name, Input: input})
		}
	}
	return out, nil
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Retryable:  model.RetryableStatus(apiErr.StatusCode),
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &model.ProviderError{Provider: "anthropic", Err: err}
}
