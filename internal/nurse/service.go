package nurse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carecompanion/internal/clinical"
	"carecompanion/internal/upstream/openai"
)

const SystemPrompt = "You are a friendly and knowledgeable AI nurse assistant."

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Service struct {
	client  ChatClient
	model   string
	timeout time.Duration
}

func New(client ChatClient, model string, timeout time.Duration) *Service {
	return &Service{
		client:  client,
		model:   strings.TrimSpace(model),
		timeout: timeout,
	}
}

// Ask sends a single patient message and returns the assistant reply.
func (s *Service) Ask(ctx context.Context, message, apiKey string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message is required", clinical.ErrInvalidInput)
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", fmt.Errorf("%w: chat api key is required", clinical.ErrMissingCredential)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.client.ChatCompletion(openai.WithRequestAPIKey(ctx, apiKey), openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: message},
		},
	})
	if err != nil {
		return "", &clinical.UpstreamError{Op: "nurse chat", Err: err}
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", &clinical.UpstreamError{Op: "nurse chat", Err: errors.New("empty reply")}
	}
	return reply, nil
}
