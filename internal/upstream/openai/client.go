package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   ObserverFunc
}

type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chat upstream request failed with status %d", e.StatusCode)
}

// ErrMissingAPIKey is returned when neither the request context nor the client carries a key.
var ErrMissingAPIKey = errors.New("openai: missing api key")

type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

type ChatCompletionResponse struct {
	Content string
	Usage   *TokenUsage
}

type apiKeyContextKey struct{}

// WithRequestAPIKey overrides the client key for calls made with the returned context.
func WithRequestAPIKey(ctx context.Context, apiKey string) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, strings.TrimSpace(apiKey))
}

func RequestAPIKeyFromContext(ctx context.Context) string {
	value, _ := ctx.Value(apiKeyContextKey{}).(string)
	return value
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL, apiKey string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) ChatCompletion(ctx context.Context, reqPayload ChatCompletionRequest) (ChatCompletionResponse, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("chat_completions", statusCode, time.Since(started)) }()

	apiKey := c.resolveAPIKey(ctx)
	if apiKey == "" {
		return ChatCompletionResponse{}, ErrMissingAPIKey
	}

	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return ChatCompletionResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ChatCompletionResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatCompletionResponse{}, err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatCompletionResponse{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ChatCompletionResponse{}, &Error{StatusCode: resp.StatusCode, Body: truncateBody(string(respBody))}
	}

	return parseChatCompletion(respBody)
}

func (c *Client) CheckModels(ctx context.Context) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("models", statusCode, time.Since(started)) }()

	apiKey := c.resolveAPIKey(ctx)
	if apiKey == "" {
		return ErrMissingAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Body: truncateBody(string(body))}
	}
	return nil
}

// HasAPIKey reports whether a call made with ctx would carry a key.
func (c *Client) HasAPIKey(ctx context.Context) bool {
	return c.resolveAPIKey(ctx) != ""
}

func (c *Client) resolveAPIKey(ctx context.Context) string {
	if key := RequestAPIKeyFromContext(ctx); key != "" {
		return key
	}
	return c.apiKey
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

func parseChatCompletion(data []byte) (ChatCompletionResponse, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage,omitempty"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ChatCompletionResponse{}, fmt.Errorf("invalid chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return ChatCompletionResponse{}, fmt.Errorf("missing choices")
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return ChatCompletionResponse{}, fmt.Errorf("missing choices[0].message.content")
	}

	resp := ChatCompletionResponse{Content: content}
	if parsed.Usage != nil {
		resp.Usage = &TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return resp, nil
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
