// Package openai adapts the OpenAI chat completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/agentflow/graph/model"
	"github.com/dshills/agentflow/internal/xjson"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o-mini"

// ChatModel implements model.ChatModel for OpenAI.
type ChatModel struct {
	modelName string
	client    openaiClient
}

type openaiClient interface {
	createCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// NewChatModel creates an OpenAI chat model. baseURL may be empty; it
// points the client at an OpenAI-compatible endpoint.
func NewChatModel(apiKey, modelName, baseURL string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, baseURL: baseURL},
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

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	completion, err := m.client.createCompletion(ctx, params)
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}
	return convertResponse(completion)
}

type defaultClient struct {
	apiKey  string
	baseURL string
}

func (c *defaultClient) createCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if c.apiKey == "" {
		return nil, errors.New("openai API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(c.apiKey)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	client := openai.NewClient(opts...)
	return client.Chat.Completions.New(ctx, params)
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
		}
		if tool.Schema != nil {
			fn.Parameters = shared.FunctionParameters(tool.Schema)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func convertResponse(completion *openai.ChatCompletion) (model.ChatOut, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return model.ChatOut{}, model.ErrEmptyResponse
	}
	msg := completion.Choices[0].Message
	out := model.ChatOut{Text: msg.Content}
	for _, call := range msg.ToolCalls {
		var input map[string]interface{}
		if call.Function.Arguments != "" {
			if err := xjson.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, &model.ProviderError{Provider: "openai", Err: err}
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: call.Function.Name, Input: input})
	}
	return out, nil
}

func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.StatusCode,
			Retryable:  model.RetryableStatus(apiErr.StatusCode),
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &model.ProviderError{Provider: "openai", Err: err}
}
