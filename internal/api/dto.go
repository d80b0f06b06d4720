package api

import (
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// Trace DTOs

// TraceResponse — ответ с trace-проекцией flow.
type TraceResponse struct {
	TraceID   string         `json:"trace_id"`
	Summary   string         `json:"summary"`
	Steps     []StepResponse `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
}

// StepResponse — шаг внутри trace.
type StepResponse struct {
	ActionID  string    `json:"action_id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Reasoning string    `json:"reasoning,omitempty"`
	SpanID    string    `json:"span_id,omitempty"`
	Terminal  bool      `json:"terminal,omitempty"`
}

// TraceFromDomain конвертирует domain.ActionTrace в TraceResponse.
func TraceFromDomain(t domain.ActionTrace) TraceResponse {
	steps := make([]StepResponse, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = StepResponse{
			ActionID:  s.ActionID,
			Action:    s.Action,
			Status:    string(s.Status),
			Timestamp: s.Timestamp,
			Reasoning: s.Reasoning,
			SpanID:    s.SpanID,
			Terminal:  s.Terminal,
		}
	}
	return TraceResponse{
		TraceID:   t.TraceID,
		Summary:   t.Summary,
		Steps:     steps,
		CreatedAt: t.CreatedAt,
	}
}

// Span DTOs

// SpanResponse — ответ со span'ом вместе с оверлеем завершения.
type SpanResponse struct {
	ID            string         `json:"id"`
	TraceID       string         `json:"trace_id"`
	ActionID      string         `json:"action_id,omitempty"`
	Step          string         `json:"step"`
	Parent        string         `json:"parent,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Summary       string         `json:"summary"`
	Meta          map[string]any `json:"meta,omitempty"`
	Status        string         `json:"status,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ResultSummary string         `json:"result_summary,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// SpanFromDomain конвертирует domain.Span в SpanResponse.
func SpanFromDomain(s domain.Span) SpanResponse {
	return SpanResponse{
		ID:            s.ID,
		TraceID:       s.TraceID,
		ActionID:      s.ActionID,
		Step:          s.Step,
		Parent:        s.Parent,
		Timestamp:     s.Timestamp,
		Summary:       s.Summary,
		Meta:          s.Meta,
		Status:        string(s.Status),
		CompletedAt:   s.CompletedAt,
		ResultSummary: s.ResultSummary,
		Result:        s.Result,
	}
}

// Queue DTOs

// PendingResponse — запись очереди pending.
type PendingResponse struct {
	TraceID   string         `json:"trace_id"`
	ActionID  string         `json:"action_id"`
	SpanID    string         `json:"span_id"`
	Action    string         `json:"action"`
	Summary   string         `json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// PendingFromDomain конвертирует domain.PendingAction в PendingResponse.
func PendingFromDomain(p domain.PendingAction) PendingResponse {
	return PendingResponse{
		TraceID:   p.TraceID,
		ActionID:  p.ActionID,
		SpanID:    p.SpanID,
		Action:    p.Action,
		Summary:   p.Summary,
		CreatedAt: p.CreatedAt,
		Meta:      p.Meta,
	}
}

// Log DTOs

// LogEntryResponse — запись плоского журнала.
type LogEntryResponse struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Step      string    `json:"step"`
	TraceID   string    `json:"trace_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	Message   string    `json:"message"`
}

// LogEntryFromDomain конвертирует domain.LogEntry в LogEntryResponse.
func LogEntryFromDomain(e domain.LogEntry) LogEntryResponse {
	return LogEntryResponse{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Step:      e.Step,
		TraceID:   e.TraceID,
		ActionID:  e.ActionID,
		Message:   e.Message,
	}
}

// Status DTOs

// StatusResponse — сводка состояния движка.
type StatusResponse struct {
	Traces  int                  `json:"traces"`
	Pending int                  `json:"pending"`
	Steps   []StepStatusResponse `json:"steps"`
}

// StepStatusResponse — состояние диспетчеризации одного типа шага.
type StepStatusResponse struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	InFlight  int    `json:"in_flight"`
}

// Event DTOs

// EventRequest — запрос на приём внешнего события.
type EventRequest struct {
	ExternalID string         `json:"external_id,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Summary    string         `json:"summary"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// EventAccepted — результат приёма события.
type EventAccepted struct {
	TraceID   string `json:"trace_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}
