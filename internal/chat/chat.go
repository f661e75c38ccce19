// Package chat talks to hosted chat-completion APIs.
package chat

import (
	"context"
	"strings"

	"github.com/raine/image-poet/internal/failure"
)

// Completer sends one system + user prompt pair and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

func checkPrompts(op, systemPrompt, userPrompt string) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return failure.Newf(failure.KindInvalidRequest, op, "empty system prompt")
	}
	if strings.TrimSpace(userPrompt) == "" {
		return failure.Newf(failure.KindInvalidRequest, op, "empty user prompt")
	}
	return nil
}
