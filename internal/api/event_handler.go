package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// PostEvent принимает внешнее событие и открывает flow.
// POST /api/v1/events
//
// Повторное событие с тем же external_id отвечает 200 с duplicate:true
// вместо открытия нового flow.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Summary) == "" {
		BadRequest(w, "summary is required")
		return
	}

	traceID, duplicate, err := h.ingestor.Ingest(r.Context(), domain.Event{
		ExternalID: req.ExternalID,
		Kind:       req.Kind,
		Summary:    req.Summary,
		Meta:       req.Meta,
	})
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	if duplicate {
		Success(w, EventAccepted{Duplicate: true})
		return
	}

	Created(w, EventAccepted{TraceID: traceID})
}
