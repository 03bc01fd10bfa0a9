package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"carecompanion/internal/clinical"
	"carecompanion/internal/upstream/openai"
)

type fakeChatClient struct {
	request openai.ChatCompletionRequest
	apiKey  string
	resp    openai.ChatCompletionResponse
	err     error
	calls   int
	block   bool
}

func (f *fakeChatClient) ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.request = req
	f.apiKey = openai.RequestAPIKeyFromContext(ctx)
	if f.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	return f.resp, f.err
}

func TestSummarizeBuildsPromptAndTrimsOutput(t *testing.T) {
	client := &fakeChatClient{resp: openai.ChatCompletionResponse{Content: "  Patient has severe chest pain.\n"}}
	svc := New(client, "gpt-3.5-turbo", 0, 0)

	summary, err := svc.Summarize(context.Background(), "Patient reports severe chest pain", "sk-test")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary != "Patient has severe chest pain." {
		t.Fatalf("unexpected summary: %q", summary)
	}
	if client.request.Model != "gpt-3.5-turbo" {
		t.Fatalf("unexpected model: %q", client.request.Model)
	}
	if client.request.MaxTokens != DefaultMaxTokens {
		t.Fatalf("unexpected max tokens: %d", client.request.MaxTokens)
	}
	if len(client.request.Messages) != 2 {
		t.Fatalf("unexpected message count: %d", len(client.request.Messages))
	}
	if client.request.Messages[0].Role != "system" || !strings.Contains(client.request.Messages[0].Content, "clinical attention") {
		t.Fatalf("unexpected system message: %+v", client.request.Messages[0])
	}
	if !strings.HasSuffix(client.request.Messages[1].Content, "Patient reports severe chest pain") {
		t.Fatalf("transcript missing from user message: %q", client.request.Messages[1].Content)
	}
	if client.apiKey != "sk-test" {
		t.Fatalf("expected key to travel on the context, got %q", client.apiKey)
	}
}

func TestSummarizeRejectsBlankTranscript(t *testing.T) {
	client := &fakeChatClient{}
	_, err := New(client, "m", 100, 0).Summarize(context.Background(), "   ", "sk-test")
	if !errors.Is(err, clinical.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("upstream should not be called, got %d calls", client.calls)
	}
}

func TestSummarizeRequiresKey(t *testing.T) {
	client := &fakeChatClient{}
	_, err := New(client, "m", 100, 0).Summarize(context.Background(), "hello", "")
	if !errors.Is(err, clinical.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("upstream should not be called, got %d calls", client.calls)
	}
}

func TestSummarizeWrapsUpstreamError(t *testing.T) {
	client := &fakeChatClient{err: &openai.Error{StatusCode: 500, Body: "boom"}}
	_, err := New(client, "m", 100, 0).Summarize(context.Background(), "hello", "sk-test")

	var upErr *clinical.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	var statusErr *openai.Error
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 500 {
		t.Fatalf("expected wrapped openai.Error, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", client.calls)
	}
}

func TestSummarizeEmptyContentIsUpstreamError(t *testing.T) {
	client := &fakeChatClient{resp: openai.ChatCompletionResponse{Content: "   "}}
	_, err := New(client, "m", 100, 0).Summarize(context.Background(), "hello", "sk-test")

	var upErr *clinical.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestSummarizeHonorsConfiguredTimeout(t *testing.T) {
	client := &fakeChatClient{block: true}
	_, err := New(client, "m", 100, 20*time.Millisecond).Summarize(context.Background(), "hello", "sk-test")
	if !clinical.IsTimeout(err) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
