// Package chat relays a multi-turn conversation to the chat completions API and
// returns the assistant's next reply.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carecompanion/internal/clinical"
	"carecompanion/internal/upstream/openai"
)

const DefaultMaxTokens = 1024

var allowedRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Service struct {
	client    ChatClient
	model     string
	maxTokens int
	timeout   time.Duration
}

func New(client ChatClient, model string, maxTokens int, timeout time.Duration) *Service {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Service{
		client:    client,
		model:     strings.TrimSpace(model),
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// Complete sends the conversation as given, in order, and returns the reply text.
func (s *Service) Complete(ctx context.Context, messages []openai.ChatMessage, apiKey string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: messages are required", clinical.ErrInvalidInput)
	}
	for i, m := range messages {
		if !allowedRoles[m.Role] {
			return "", fmt.Errorf("%w: message %d has unsupported role %q", clinical.ErrInvalidInput, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return "", fmt.Errorf("%w: message %d is empty", clinical.ErrInvalidInput, i)
		}
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", fmt.Errorf("%w: chat api key is required", clinical.ErrMissingCredential)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.client.ChatCompletion(openai.WithRequestAPIKey(ctx, apiKey), openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return "", &clinical.UpstreamError{Op: "chat", Err: err}
	}
	return strings.TrimSpace(resp.Content), nil
}
