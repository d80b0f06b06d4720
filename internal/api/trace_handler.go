package api

import (
	"errors"
	"net/http"

	"github.com/endorhq/rover-sub001/internal/orchestrator"
)

// ListTraces возвращает снапшот всех trace по времени появления.
// GET /api/v1/traces
func (h *Handler) ListTraces(w http.ResponseWriter, r *http.Request) {
	traces := h.orch.Traces()

	result := make([]TraceResponse, len(traces))
	for i, tr := range traces {
		result[i] = TraceFromDomain(tr)
	}

	List(w, result, len(result))
}

// GetTrace возвращает trace по ID.
// GET /api/v1/traces/{id}
func (h *Handler) GetTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		BadRequest(w, "trace id is required")
		return
	}

	tr, err := h.orch.Trace(id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTraceNotFound) {
			NotFound(w, "trace not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, TraceFromDomain(*tr))
}

// GetSpanChain возвращает span и всех его предков, корень первым.
// GET /api/v1/spans/{id}/chain
func (h *Handler) GetSpanChain(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		BadRequest(w, "span id is required")
		return
	}

	chain, err := h.store.GetSpanTrace(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "span not found") {
		return
	}

	result := make([]SpanResponse, len(chain))
	for i, s := range chain {
		result[i] = SpanFromDomain(s)
	}

	List(w, result, len(result))
}
