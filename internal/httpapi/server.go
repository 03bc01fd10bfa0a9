package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"carecompanion/internal/alerts"
	"carecompanion/internal/clinical"
	"carecompanion/internal/config"
	"carecompanion/internal/model"
	"carecompanion/internal/pipeline"
	"carecompanion/internal/upstream/openai"
)

type PipelineService interface {
	ProcessTranscript(ctx context.Context, transcript string, opts pipeline.Options) pipeline.Result
	ProcessSummary(ctx context.Context, summary string, opts pipeline.Options) pipeline.Result
}

type NurseService interface {
	Ask(ctx context.Context, message, apiKey string) (string, error)
}

type ChatService interface {
	Complete(ctx context.Context, messages []openai.ChatMessage, apiKey string) (string, error)
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

// AlertPublisher must not block: the response has already been written when it is called.
type AlertPublisher interface {
	PublishAsync(ctx context.Context, alert alerts.Alert)
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	IncPipelineFailure(kind string)
}

type Dependencies struct {
	Pipeline       PipelineService
	Nurse          NurseService
	Chat           ChatService
	Upstream       UpstreamChecker
	Alerts         AlertPublisher
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	nurse        NurseService
	chat         ChatService
	upstream     UpstreamChecker
	alerts       AlertPublisher
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader   = "X-Request-Id"
	hfKeyHeader       = "X-HuggingFace-Key"
	requestIDContext = ctxKey("request_id")
	hfKeyContext     = ctxKey("hf_key")
	statusCanceled   = 499
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil || deps.Nurse == nil || deps.Upstream == nil {
		panic("httpapi: pipeline, nurse and upstream dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		nurse:        deps.Nurse,
		chat:         deps.Chat,
		upstream:     deps.Upstream,
		alerts:       deps.Alerts,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.credentialsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/transcripts/process", s.handleProcessTranscript)
		r.Post("/summaries/classify", s.handleClassifySummary)
		r.Post("/ask-nurse", s.handleAskNurse)
		if s.chat != nil {
			r.Post("/chat", s.handleChat)
		}
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.OpenAIAPIKey == "" && openai.RequestAPIKeyFromContext(r.Context()) == "" {
		writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: "CareCompanion"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.upstream.CheckModels(ctx); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "upstream check failed", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: "CareCompanion"})
}

func (s *server) handleProcessTranscript(w http.ResponseWriter, r *http.Request) {
	var req model.ProcessTranscriptRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}

	result := s.pipeline.ProcessTranscript(r.Context(), req.Transcript, s.requestOptions(r))
	s.writeResult(w, r, result)
}

func (s *server) handleClassifySummary(w http.ResponseWriter, r *http.Request) {
	var req model.ClassifySummaryRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}

	result := s.pipeline.ProcessSummary(r.Context(), req.Summary, s.requestOptions(r))
	s.writeResultFor(w, r, result, req.Summary)
}

func (s *server) handleAskNurse(w http.ResponseWriter, r *http.Request) {
	var req model.AskNurseRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}

	apiKey := openai.RequestAPIKeyFromContext(r.Context())
	if apiKey == "" {
		apiKey = s.cfg.OpenAIAPIKey
	}
	reply, err := s.nurse.Ask(r.Context(), req.Message, apiKey)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.AskNurseResponse{Reply: reply})
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}

	apiKey := openai.RequestAPIKeyFromContext(r.Context())
	if apiKey == "" {
		apiKey = s.cfg.OpenAIAPIKey
	}
	reply, err := s.chat.Complete(r.Context(), req.Messages, apiKey)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ChatResponse{Response: reply})
}

func (s *server) writeResult(w http.ResponseWriter, r *http.Request, result pipeline.Result) {
	s.writeResultFor(w, r, result, result.Summary)
}

// writeResultFor renders the envelope; summary is the text the verdict was computed on.
func (s *server) writeResultFor(w http.ResponseWriter, r *http.Request, result pipeline.Result, summary string) {
	if !result.Success {
		if s.metrics != nil {
			s.metrics.IncPipelineFailure(string(result.Kind))
		}
		s.logger.Warn("pipeline failed",
			"request_id", requestIDFromContext(r.Context()),
			"kind", result.Kind,
			"error", result.Error,
		)
		writeJSON(w, statusForKind(result.Kind), model.ProcessingResult{Success: false, Error: result.Error})
		return
	}

	if result.Classification == nil {
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "missing classification", nil)
		return
	}
	s.logger.Debug("pipeline succeeded",
		"request_id", requestIDFromContext(r.Context()),
		"method", result.Classification.Method,
		"summarization_ms", result.Timings.Summarization.Milliseconds(),
		"classification_ms", result.Timings.Classification.Milliseconds(),
	)

	writeJSON(w, http.StatusOK, model.ProcessingResult{
		Success:        true,
		Summary:        result.Summary,
		Classification: result.Classification,
	})

	if result.Classification.NeedsAttention() {
		s.publishAlert(r, summary, *result.Classification)
	}
}

func (s *server) publishAlert(r *http.Request, summary string, verdict clinical.Verdict) {
	if s.alerts == nil {
		return
	}
	alert := alerts.NewAlert(summary, verdict, requestIDFromContext(r.Context()))
	s.logger.Debug("alert queued", "request_id", alert.RequestID, "alert_id", alert.ID)
	s.alerts.PublishAsync(r.Context(), alert)
}

func (s *server) requestOptions(r *http.Request) pipeline.Options {
	return pipeline.Options{
		OpenAIKey:      openai.RequestAPIKeyFromContext(r.Context()),
		HuggingFaceKey: hfKeyFromContext(r.Context()),
	}
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return ensureBodyFullyConsumed(decoder)
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxBodyBytes), nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "request failed"
	details := detailsForError(err)

	var upstreamErr *openai.Error
	switch {
	case errors.Is(err, clinical.ErrInvalidInput):
		status = http.StatusBadRequest
		code = "invalid_request"
		message = err.Error()
		details = nil
	case errors.Is(err, clinical.ErrMissingCredential):
		status = http.StatusUnauthorized
		code = "unauthorized"
		message = err.Error()
		details = nil
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = "timeout"
		message = "request timed out"
	case errors.Is(err, context.Canceled):
		status = statusCanceled
		code = "canceled"
		message = "request canceled"
	case errors.As(err, &upstreamErr):
		status = http.StatusBadGateway
		code = "upstream_request_failed"
		message = "upstream request failed"
	}

	s.writeError(w, r, status, code, message, details)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// credentialsMiddleware moves caller-supplied keys onto the request context. Missing
// keys are not rejected here: the pipeline reports them in its envelope.
func (s *server) credentialsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, hasHeader, ok := extractBearerToken(r.Header.Get("Authorization"))
		if hasHeader && !ok {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authorization must be Bearer <openai_api_key>", nil)
			return
		}
		ctx := r.Context()
		if token != "" {
			ctx = openai.WithRequestAPIKey(ctx, token)
		}
		if hfKey := strings.TrimSpace(r.Header.Get(hfKeyHeader)); hfKey != "" {
			ctx = context.WithValue(ctx, hfKeyContext, hfKey)
		}

		s.logger.Debug("request credentials",
			"request_id", requestIDFromContext(ctx),
			"openai_key", presence(openai.RequestAPIKeyFromContext(ctx) != "" || s.cfg.OpenAIAPIKey != ""),
			"huggingface_key", presence(hfKeyFromContext(ctx) != "" || s.cfg.HFAPIKey != ""),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func statusForKind(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindInvalidInput:
		return http.StatusBadRequest
	case pipeline.KindMissingCredential:
		return http.StatusUnauthorized
	case pipeline.KindUpstream:
		return http.StatusBadGateway
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindCanceled:
		return statusCanceled
	default:
		return http.StatusInternalServerError
	}
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func hfKeyFromContext(ctx context.Context) string {
	value, _ := ctx.Value(hfKeyContext).(string)
	return value
}

func extractBearerToken(header string) (token string, hasHeader bool, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, true
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", true, false
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", true, false
	}
	return token, true, true
}

func detailsForError(err error) map[string]any {
	if err == nil {
		return nil
	}
	details := map[string]any{"error": err.Error()}
	var upstreamErr *openai.Error
	if errors.As(err, &upstreamErr) {
		details["upstream_status"] = upstreamErr.StatusCode
		if upstreamErr.Body != "" {
			details["upstream_body"] = upstreamErr.Body
		}
	}
	return details
}
