package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"carecompanion/internal/clinical"
)

type Summarizer interface {
	Summarize(ctx context.Context, transcript, apiKey string) (string, error)
}

type Classifier interface {
	Classify(ctx context.Context, summary, apiKey string) (clinical.Verdict, error)
}

// Options carries per-request credentials. Empty fields fall back to the service defaults.
type Options struct {
	OpenAIKey      string
	HuggingFaceKey string
}

type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidInput      ErrorKind = "invalid_input"
	KindMissingCredential ErrorKind = "missing_credential"
	KindUpstream          ErrorKind = "upstream_error"
	KindTimeout           ErrorKind = "timeout"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal_error"
)

type Timings struct {
	Summarization  time.Duration
	Classification time.Duration
	Total          time.Duration
}

// Result is the success/failure envelope. Success implies Classification is set;
// failure implies Error is set and Classification is nil.
type Result struct {
	Success        bool
	Summary        string
	Classification *clinical.Verdict
	Error          string
	Kind           ErrorKind
	Timings        Timings
}

type Service struct {
	summarizer Summarizer
	classifier Classifier
	defaults   Options
}

func New(summarizer Summarizer, classifier Classifier, defaults Options) *Service {
	return &Service{
		summarizer: summarizer,
		classifier: classifier,
		defaults: Options{
			OpenAIKey:      strings.TrimSpace(defaults.OpenAIKey),
			HuggingFaceKey: strings.TrimSpace(defaults.HuggingFaceKey),
		},
	}
}

// ProcessTranscript summarizes the transcript and classifies the summary. The
// classifier is not invoked when summarization fails.
func (s *Service) ProcessTranscript(ctx context.Context, transcript string, opts Options) Result {
	started := time.Now()
	opts = s.resolve(opts)

	summary, err := s.summarizer.Summarize(ctx, transcript, opts.OpenAIKey)
	summarizationDuration := time.Since(started)
	if err != nil {
		res := failure(err)
		res.Timings = Timings{Summarization: summarizationDuration, Total: time.Since(started)}
		return res
	}

	classificationStarted := time.Now()
	res := s.classify(ctx, summary, opts)
	res.Timings = Timings{
		Summarization:  summarizationDuration,
		Classification: time.Since(classificationStarted),
		Total:          time.Since(started),
	}
	if res.Success {
		res.Summary = summary
	}
	return res
}

// ProcessSummary classifies an existing summary.
func (s *Service) ProcessSummary(ctx context.Context, summary string, opts Options) Result {
	started := time.Now()
	res := s.classify(ctx, summary, s.resolve(opts))
	elapsed := time.Since(started)
	res.Timings = Timings{Classification: elapsed, Total: elapsed}
	return res
}

func (s *Service) classify(ctx context.Context, summary string, opts Options) Result {
	verdict, err := s.classifier.Classify(ctx, summary, opts.HuggingFaceKey)
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, Classification: &verdict}
}

func (s *Service) resolve(opts Options) Options {
	out := Options{
		OpenAIKey:      strings.TrimSpace(opts.OpenAIKey),
		HuggingFaceKey: strings.TrimSpace(opts.HuggingFaceKey),
	}
	if out.OpenAIKey == "" {
		out.OpenAIKey = s.defaults.OpenAIKey
	}
	if out.HuggingFaceKey == "" {
		out.HuggingFaceKey = s.defaults.HuggingFaceKey
	}
	return out
}

func failure(err error) Result {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "processing failed"
	}
	return Result{Success: false, Error: msg, Kind: KindOf(err)}
}

// KindOf maps an error from the pipeline stages onto its ErrorKind.
func KindOf(err error) ErrorKind {
	var upErr *clinical.UpstreamError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, clinical.ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, clinical.ErrMissingCredential):
		return KindMissingCredential
	case clinical.IsTimeout(err):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &upErr):
		return KindUpstream
	default:
		return KindInternal
	}
}
