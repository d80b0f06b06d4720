package api

import (
	"net/http"
	"sort"
	"strconv"
)

const defaultLogLimit = 100

// ListPending возвращает снапшот очереди pending.
// GET /api/v1/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.GetPending(r.Context())
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	// Хранилище не гарантирует порядок — сортируем для стабильной выдачи.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ActionID < entries[j].ActionID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	result := make([]PendingResponse, len(entries))
	for i, p := range entries {
		result[i] = PendingFromDomain(p)
	}

	List(w, result, len(result))
}

// GetLog возвращает последние записи плоского журнала.
// GET /api/v1/log?limit=N
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.store.ListLog(r.Context(), limit)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]LogEntryResponse, len(entries))
	for i, e := range entries {
		result[i] = LogEntryFromDomain(e)
	}

	List(w, result, len(result))
}

// GetStatus возвращает сводку состояния движка.
// GET /api/v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.GetPending(r.Context())
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	types := h.registry.Types()
	steps := make([]StepStatusResponse, 0, len(types))
	for _, t := range types {
		steps = append(steps, StepStatusResponse{
			Type:      t,
			Status:    string(h.orch.Status(t)),
			Processed: h.orch.ProcessedCount(t),
			InFlight:  h.orch.InFlightCount(t),
		})
	}

	Success(w, StatusResponse{
		Traces:  h.orch.TraceCount(),
		Pending: len(pending),
		Steps:   steps,
	})
}
