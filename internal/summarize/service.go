package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carecompanion/internal/clinical"
	"carecompanion/internal/upstream/openai"
)

const SystemPrompt = `You are a medical assistant analyzing call transcripts. Create a concise summary focusing on key health information, symptoms, concerns, and anything that might require clinical attention.`

const userInstruction = "Please summarize the following call transcript, focusing on medical information and potential concerns:\n\n"

const DefaultMaxTokens = 300

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Service struct {
	client    ChatClient
	model     string
	maxTokens int
	// zero means the call is bounded only by the caller's context
	timeout time.Duration
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

func (s *Service) Summarize(ctx context.Context, transcript, apiKey string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("%w: no transcript provided", clinical.ErrInvalidInput)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", fmt.Errorf("%w: summarization api key is required", clinical.ErrMissingCredential)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx = openai.WithRequestAPIKey(ctx, apiKey)

	chatResp, err := s.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: userInstruction + transcript},
		},
	})
	if err != nil {
		return "", &clinical.UpstreamError{Op: "summarization", Err: err}
	}

	summary := strings.TrimSpace(chatResp.Content)
	if summary == "" {
		return "", &clinical.UpstreamError{Op: "summarization", Err: errors.New("empty summary returned")}
	}
	return summary, nil
}
