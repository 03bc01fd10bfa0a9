package model

import (
	"carecompanion/internal/clinical"
	"carecompanion/internal/upstream/openai"
)

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
}

type ProcessTranscriptRequest struct {
	Transcript string `json:"transcript"`
}

type ClassifySummaryRequest struct {
	Summary string `json:"summary"`
}

// ProcessingResult is the envelope returned by both pipeline endpoints.
type ProcessingResult struct {
	Success        bool              `json:"success"`
	Summary        string            `json:"summary,omitempty"`
	Classification *clinical.Verdict `json:"classification,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type AskNurseRequest struct {
	Message string `json:"message"`
}

type AskNurseResponse struct {
	Reply string `json:"reply"`
}

type ChatRequest struct {
	Messages []openai.ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Response string `json:"response"`
}
