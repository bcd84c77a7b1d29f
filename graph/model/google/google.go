// Package google adapts Google Gemini to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/agentflow/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash-lite"

// ChatModel implements model.ChatModel for Gemini.
//
// System messages are sent as the model's system instruction; the other
// messages become content parts in order.
type ChatModel struct {
	modelName string
	client    googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, modelName string, req request) (*genai.GenerateContentResponse, error)
}

// request is the provider-neutral form of one Gemini call.
type request struct {
	system string
	parts  []genai.Part
	tools  []*genai.Tool
}

// NewChatModel creates a Gemini chat model.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey},
	}
}

// ModelName returns the configured Gemini model.
func (m *ChatModel) ModelName() string {
	return m.modelName
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req := convertMessages(messages)
	if len(tools) > 0 {
		req.tools = convertTools(tools)
	}

	resp, err := m.client.generateContent(ctx, m.modelName, req)
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}
	if err := checkSafety(resp); err != nil {
		return model.ChatOut{}, err
	}
	return convertResponse(resp), nil
}

type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, modelName string, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(modelName)
	if req.system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	if len(req.tools) > 0 {
		genModel.Tools = req.tools
	}
	return genModel.GenerateContent(ctx, req.parts...)
}

func convertMessages(messages []model.Message) request {
	var req request
	var system []string
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		req.parts = append(req.parts, genai.Text(msg.Content))
	}
	req.system = strings.Join(system, "\n\n")
	return req
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typ, ok := propMap["type"].(string); ok {
				prop.Type = convertType(typ)
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			result.Properties[key] = prop
		}
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertType(typ string) genai.Type {
	switch typ {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// SafetyFilterError reports a prompt or reply blocked by Gemini's safety
// filters.
type SafetyFilterError struct {
	Reason string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Reason
}

func checkSafety(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return &SafetyFilterError{Reason: fb.BlockReason.String()}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return &SafetyFilterError{Reason: "candidate finished for safety"}
	}
	return nil
}

func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   "google",
			StatusCode: apiErr.Code,
			Retryable:  model.RetryableStatus(apiErr.Code),
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &model.ProviderError{Provider: "google", Err: err}
}
