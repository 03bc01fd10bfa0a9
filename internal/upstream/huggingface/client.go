// Package huggingface is a client for the Hugging Face inference API zero-shot
// classification task.
package huggingface

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
	httpClient *http.Client
	observer   ObserverFunc
}

// Error is a non-2xx answer from the inference API.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("classification upstream request failed with status %d", e.StatusCode)
}

// ErrMalformedResponse marks a 2xx answer that could not be read as a zero-shot result.
var ErrMalformedResponse = errors.New("huggingface: malformed zero-shot response")

type ZeroShotRequest struct {
	Model           string
	Inputs          string
	CandidateLabels []string
	APIKey          string
}

// ZeroShotResponse keeps the upstream ordering; Labels[i] is scored by Scores[i].
type ZeroShotResponse struct {
	Labels []string
	Scores []float64
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) ZeroShot(ctx context.Context, in ZeroShotRequest) (ZeroShotResponse, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("zero_shot", statusCode, time.Since(started)) }()

	payload, err := json.Marshal(zeroShotPayload{
		Inputs:     in.Inputs,
		Parameters: zeroShotParameters{CandidateLabels: in.CandidateLabels},
	})
	if err != nil {
		return ZeroShotResponse{}, err
	}

	url := c.baseURL + "/" + strings.Trim(in.Model, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ZeroShotResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(in.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ZeroShotResponse{}, err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ZeroShotResponse{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ZeroShotResponse{}, &Error{StatusCode: resp.StatusCode, Body: truncateBody(string(respBody))}
	}

	return parseZeroShot(respBody)
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

type zeroShotPayload struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
}

// parseZeroShot accepts the classic {"labels":[...],"scores":[...]} object and the
// [{"label":...,"score":...}] list served by newer inference endpoints.
func parseZeroShot(data []byte) (ZeroShotResponse, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ZeroShotResponse{}, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	if trimmed[0] == '[' {
		var items []struct {
			Label *string  `json:"label"`
			Score *float64 `json:"score"`
		}
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return ZeroShotResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		out := ZeroShotResponse{
			Labels: make([]string, 0, len(items)),
			Scores: make([]float64, 0, len(items)),
		}
		for _, item := range items {
			if item.Label == nil || item.Score == nil {
				return ZeroShotResponse{}, fmt.Errorf("%w: list item without label or score", ErrMalformedResponse)
			}
			out.Labels = append(out.Labels, *item.Label)
			out.Scores = append(out.Scores, *item.Score)
		}
		return out, nil
	}

	var parsed struct {
		Labels []string  `json:"labels"`
		Scores []float64 `json:"scores"`
		Error  string    `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return ZeroShotResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Error != "" {
		return ZeroShotResponse{}, fmt.Errorf("%w: %s", ErrMalformedResponse, parsed.Error)
	}
	if parsed.Labels == nil || parsed.Scores == nil {
		return ZeroShotResponse{}, fmt.Errorf("%w: labels or scores missing", ErrMalformedResponse)
	}
	return ZeroShotResponse{Labels: parsed.Labels, Scores: parsed.Scores}, nil
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
