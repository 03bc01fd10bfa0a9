package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatCompletionParsesContentAndUsage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["max_tokens"] != float64(300) {
			t.Fatalf("unexpected max_tokens: %v", body["max_tokens"])
		}
		if _, ok := body["temperature"]; ok {
			t.Fatalf("temperature should be omitted when unset")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"summary"}}],"usage":{"prompt_tokens":50,"completion_tokens":10,"total_tokens":60}}`)
	}))
	defer ts.Close()

	c := New(ts.URL, "test-key", ts.Client())
	resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Model:     "m",
		MaxTokens: 300,
		Messages:  []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if resp.Content != "summary" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 60 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestChatCompletionPrefersRequestAPIKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer caller-key" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer ts.Close()

	c := New(ts.URL, "server-key", ts.Client())
	ctx := WithRequestAPIKey(context.Background(), " caller-key ")
	if _, err := c.ChatCompletion(ctx, ChatCompletionRequest{Model: "m"}); err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
}

func TestChatCompletionWithoutKeyFailsFast(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	c := New(ts.URL, "", ts.Client())
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if called {
		t.Fatal("upstream should not be called without a key")
	}
}

func TestChatCompletionReturnsUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	var observedEndpoint string
	var observedStatus int
	c := New(ts.URL, "test-key", ts.Client(), WithObserver(func(endpoint string, status int, _ time.Duration) {
		observedEndpoint = endpoint
		observedStatus = status
	}))
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status code: %d", upErr.StatusCode)
	}
	if observedEndpoint != "chat_completions" || observedStatus != http.StatusTooManyRequests {
		t.Fatalf("unexpected observation: %q %d", observedEndpoint, observedStatus)
	}
}

func TestChatCompletionRejectsEmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer ts.Close()

	c := New(ts.URL, "test-key", ts.Client())
	if _, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestCheckModels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL+"/", "test-key", ts.Client())
	if err := c.CheckModels(context.Background()); err != nil {
		t.Fatalf("CheckModels() error = %v", err)
	}
	if !c.HasAPIKey(context.Background()) {
		t.Fatal("expected client key to be reported")
	}
}
