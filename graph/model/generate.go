package model

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a provider replies with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// TextGenerator turns a prompt into a response. Agent nodes treat it as
// opaque; it must be safe for concurrent use.
type TextGenerator func(ctx context.Context, prompt string) (string, error)

// FromChatModel sends each prompt as a single user message to cm.
func FromChatModel(cm ChatModel) TextGenerator {
	return func(ctx context.Context, prompt string) (string, error) {
		out, err := cm.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, nil)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out.Text) == "" {
			return "", ErrEmptyResponse
		}
		return out.Text, nil
	}
}

// Echo returns a generator that answers with the prompt itself. It lets
// workflows run offline.
func Echo() TextGenerator {
	return func(ctx context.Context, prompt string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return prompt, nil
	}
}

// Static returns a generator that always answers with reply.
func Static(reply string) TextGenerator {
	return func(ctx context.Context, prompt string) (string, error) {
		return reply, nil
	}
}
