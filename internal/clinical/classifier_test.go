package clinical

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecompanion/internal/upstream/huggingface"
)

type fakeZeroShot struct {
	resp  huggingface.ZeroShotResponse
	err   error
	block bool
	calls int
	req   huggingface.ZeroShotRequest
}

func (f *fakeZeroShot) ZeroShot(ctx context.Context, req huggingface.ZeroShotRequest) (huggingface.ZeroShotResponse, error) {
	f.calls++
	f.req = req
	if f.block {
		<-ctx.Done()
		return huggingface.ZeroShotResponse{}, ctx.Err()
	}
	return f.resp, f.err
}

func newTestClassifier(client ZeroShotClient, opts ...ClassifierOption) *Classifier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClassifier(client, "facebook/bart-large-mnli", time.Second, logger, opts...)
}

func TestClassifierRejectsBlankSummary(t *testing.T) {
	client := &fakeZeroShot{}
	_, err := newTestClassifier(client).Classify(context.Background(), "  \n", "hf-key")

	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, client.calls)
}

func TestClassifierWithoutKeyUsesKeywords(t *testing.T) {
	client := &fakeZeroShot{}
	var reasons []string
	c := newTestClassifier(client, WithFallbackObserver(func(reason string) { reasons = append(reasons, reason) }))

	v, err := c.Classify(context.Background(), "Patient has a fever", "")

	require.NoError(t, err)
	assert.Equal(t, MethodKeyword, v.Method)
	assert.Equal(t, ResultNeedsAttention, v.Result)
	assert.Zero(t, client.calls, "no network call without a key")
	assert.Equal(t, []string{"no_credential"}, reasons)
}

func TestClassifierNormalizesZeroShotResponse(t *testing.T) {
	t.Run("reorders labels into canonical order", func(t *testing.T) {
		client := &fakeZeroShot{resp: huggingface.ZeroShotResponse{
			Labels: []string{"needs clinical attention", "normal"},
			Scores: []float64{0.87654, 0.12346},
		}}
		var methods []string
		c := newTestClassifier(client, WithVerdictObserver(func(m string) { methods = append(methods, m) }))

		v, err := c.Classify(context.Background(), "Patient is recovering well", "hf-key")

		require.NoError(t, err)
		assert.Equal(t, [2]string{"normal", "needs clinical attention"}, v.Labels)
		assert.Equal(t, [2]float64{12.35, 87.65}, v.Scores)
		assert.Equal(t, ResultNeedsAttention, v.Result)
		assert.Equal(t, MethodZeroShot, v.Method)
		assert.Equal(t, "facebook/bart-large-mnli", v.Model)
		assert.Nil(t, v.MatchedKeywords)
		assert.Equal(t, []string{MethodZeroShot}, methods)

		assert.Equal(t, "hf-key", client.req.APIKey)
		assert.Equal(t, []string{"needs clinical attention", "normal"}, client.req.CandidateLabels)
		assert.Equal(t, "Patient is recovering well", client.req.Inputs)
	})

	t.Run("exactly fifty percent is normal", func(t *testing.T) {
		client := &fakeZeroShot{resp: huggingface.ZeroShotResponse{
			Labels: []string{"normal", "needs clinical attention"},
			Scores: []float64{0.5, 0.5},
		}}

		v, err := newTestClassifier(client).Classify(context.Background(), "severe pain", "hf-key")

		require.NoError(t, err)
		assert.Equal(t, [2]float64{50, 50}, v.Scores)
		assert.Equal(t, ResultNormal, v.Result)
		assert.Equal(t, MethodZeroShot, v.Method)
	})

	t.Run("threshold uses the unrounded score", func(t *testing.T) {
		client := &fakeZeroShot{resp: huggingface.ZeroShotResponse{
			Labels: []string{"normal", "needs clinical attention"},
			Scores: []float64{0.49996, 0.50004},
		}}

		v, err := newTestClassifier(client).Classify(context.Background(), "all good", "hf-key")

		require.NoError(t, err)
		assert.Equal(t, [2]float64{50, 50}, v.Scores)
		assert.Equal(t, ResultNeedsAttention, v.Result)
	})

	t.Run("just above fifty percent needs attention", func(t *testing.T) {
		client := &fakeZeroShot{resp: huggingface.ZeroShotResponse{
			Labels: []string{"normal", "needs clinical attention"},
			Scores: []float64{0.49, 0.51},
		}}

		v, err := newTestClassifier(client).Classify(context.Background(), "all good", "hf-key")

		require.NoError(t, err)
		assert.Equal(t, ResultNeedsAttention, v.Result)
	})
}

func TestClassifierFallsBackToKeywords(t *testing.T) {
	summary := "Patient reports severe headache"
	want := ClassifyKeywords(summary)

	cases := []struct {
		name   string
		client *fakeZeroShot
		reason string
	}{
		{
			name: "missing normal label",
			client: &fakeZeroShot{resp: huggingface.ZeroShotResponse{
				Labels: []string{"needs clinical attention", "other"},
				Scores: []float64{0.9, 0.1},
			}},
			reason: "labels_missing",
		},
		{
			name:   "upstream status error",
			client: &fakeZeroShot{err: &huggingface.Error{StatusCode: 503, Body: "loading"}},
			reason: "upstream_status",
		},
		{
			name:   "network error",
			client: &fakeZeroShot{err: errors.New("connection refused")},
			reason: "transport",
		},
		{
			name:   "malformed payload",
			client: &fakeZeroShot{err: huggingface.ErrMalformedResponse},
			reason: "malformed_response",
		},
		{
			name: "score out of range",
			client: &fakeZeroShot{resp: huggingface.ZeroShotResponse{
				Labels: []string{"normal", "needs clinical attention"},
				Scores: []float64{1.7, 0.1},
			}},
			reason: "malformed_response",
		},
		{
			name: "length mismatch",
			client: &fakeZeroShot{resp: huggingface.ZeroShotResponse{
				Labels: []string{"normal", "needs clinical attention"},
				Scores: []float64{0.1},
			}},
			reason: "malformed_response",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var reasons []string
			c := newTestClassifier(tc.client, WithFallbackObserver(func(r string) { reasons = append(reasons, r) }))

			v, err := c.Classify(context.Background(), summary, "hf-key")

			require.NoError(t, err)
			assert.Equal(t, want, v)
			assert.Equal(t, 1, tc.client.calls)
			assert.Equal(t, []string{tc.reason}, reasons)
		})
	}
}

func TestClassifierTimeoutFallsBack(t *testing.T) {
	client := &fakeZeroShot{block: true}
	var reasons []string
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClassifier(client, "m", 20*time.Millisecond, logger, WithFallbackObserver(func(r string) { reasons = append(reasons, r) }))

	started := time.Now()
	v, err := c.Classify(context.Background(), "no keywords here", "hf-key")

	require.NoError(t, err)
	assert.True(t, time.Since(started) < 2*time.Second, "fallback must not wait for the upstream")
	assert.Equal(t, MethodKeyword, v.Method)
	assert.Equal(t, ResultNormal, v.Result)
	assert.Equal(t, []string{"timeout"}, reasons)
}

func TestNewClassifierDefaultsTimeout(t *testing.T) {
	c := NewClassifier(nil, "m", 0, nil)
	assert.Equal(t, DefaultClassificationTimeout, c.timeout)
}
