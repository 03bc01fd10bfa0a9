package clinical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"carecompanion/internal/upstream/huggingface"
)

const DefaultClassificationTimeout = 30 * time.Second

// requestLabels is the candidate label order sent upstream.
var requestLabels = []string{LabelNeedsAttention, LabelNormal}

var errLabelsMissing = errors.New("expected labels not found in the response")

type ZeroShotClient interface {
	ZeroShot(ctx context.Context, req huggingface.ZeroShotRequest) (huggingface.ZeroShotResponse, error)
}

type ClassifierOption func(*Classifier)

// WithVerdictObserver is called with the method of every produced verdict.
func WithVerdictObserver(fn func(method string)) ClassifierOption {
	return func(c *Classifier) {
		c.onVerdict = fn
	}
}

// WithFallbackObserver is called with a short reason whenever the keyword method is used.
func WithFallbackObserver(fn func(reason string)) ClassifierOption {
	return func(c *Classifier) {
		c.onFallback = fn
	}
}

type Classifier struct {
	client     ZeroShotClient
	model      string
	timeout    time.Duration
	logger     *slog.Logger
	onVerdict  func(method string)
	onFallback func(reason string)
}

func NewClassifier(client ZeroShotClient, model string, timeout time.Duration, logger *slog.Logger, opts ...ClassifierOption) *Classifier {
	if timeout <= 0 {
		timeout = DefaultClassificationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		client:  client,
		model:   strings.TrimSpace(model),
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Classify returns ErrInvalidInput for a blank summary. Every other failure is
// absorbed by falling back to ClassifyKeywords.
func (c *Classifier) Classify(ctx context.Context, summary, apiKey string) (Verdict, error) {
	if strings.TrimSpace(summary) == "" {
		return Verdict{}, fmt.Errorf("%w: no summary provided", ErrInvalidInput)
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" || c.client == nil {
		c.logger.Debug("classification credential absent, using keyword classification")
		return c.fallback(summary, "no_credential"), nil
	}

	verdict, err := c.classifyZeroShot(ctx, summary, apiKey)
	if err != nil {
		reason := fallbackReason(err)
		c.logger.Warn("zero-shot classification failed, falling back to keywords",
			"model", c.model,
			"reason", reason,
			"error", err,
		)
		return c.fallback(summary, reason), nil
	}

	c.logger.Debug("zero-shot classification succeeded",
		"model", c.model,
		"normal_score", verdict.NormalScore(),
		"attention_score", verdict.AttentionScore(),
	)
	c.observeVerdict(verdict.Method)
	return verdict, nil
}

func (c *Classifier) classifyZeroShot(ctx context.Context, summary, apiKey string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.ZeroShot(ctx, huggingface.ZeroShotRequest{
		Model:           c.model,
		Inputs:          summary,
		CandidateLabels: requestLabels,
		APIKey:          apiKey,
	})
	if err != nil {
		return Verdict{}, &UpstreamError{Op: "zero-shot classification", Err: err}
	}

	normalProb, attentionProb, err := normalizeScores(resp)
	if err != nil {
		return Verdict{}, &UpstreamError{Op: "zero-shot classification", Err: err}
	}

	// The threshold applies to the unrounded score; 0.50004 is shown as 50 but still needs attention.
	result := ResultNormal
	if attentionProb*100 > 50.0 {
		result = ResultNeedsAttention
	}
	return Verdict{
		Labels: CanonicalLabels,
		Scores: [2]float64{toPercent(normalProb), toPercent(attentionProb)},
		Result: result,
		Method: MethodZeroShot,
		Model:  c.model,
	}, nil
}

func (c *Classifier) fallback(summary, reason string) Verdict {
	if c.onFallback != nil {
		c.onFallback(reason)
	}
	verdict := ClassifyKeywords(summary)
	c.observeVerdict(verdict.Method)
	return verdict
}

func (c *Classifier) observeVerdict(method string) {
	if c.onVerdict != nil {
		c.onVerdict(method)
	}
}

// normalizeScores finds both labels by name and returns their probabilities in
// canonical order.
func normalizeScores(resp huggingface.ZeroShotResponse) (normal, attention float64, err error) {
	if len(resp.Labels) != len(resp.Scores) {
		return 0, 0, fmt.Errorf("%w: %d labels for %d scores", huggingface.ErrMalformedResponse, len(resp.Labels), len(resp.Scores))
	}
	normalIdx := indexOf(resp.Labels, LabelNormal)
	attentionIdx := indexOf(resp.Labels, LabelNeedsAttention)
	if normalIdx < 0 || attentionIdx < 0 {
		return 0, 0, errLabelsMissing
	}

	normalProb, attentionProb := resp.Scores[normalIdx], resp.Scores[attentionIdx]
	if !validProbability(normalProb) || !validProbability(attentionProb) {
		return 0, 0, fmt.Errorf("%w: score outside [0,1]", huggingface.ErrMalformedResponse)
	}
	return normalProb, attentionProb, nil
}

func indexOf(labels []string, want string) int {
	for i, label := range labels {
		if label == want {
			return i
		}
	}
	return -1
}

func validProbability(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0 && p <= 1
}

func toPercent(p float64) float64 {
	return math.Round(p*100*100) / 100
}

func fallbackReason(err error) string {
	var statusErr *huggingface.Error
	switch {
	case IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		return "upstream_status"
	case errors.Is(err, errLabelsMissing):
		return "labels_missing"
	case errors.Is(err, huggingface.ErrMalformedResponse):
		return "malformed_response"
	default:
		return "transport"
	}
}
