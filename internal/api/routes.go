package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Traces
	mux.Handle("GET /api/v1/traces", chain(http.HandlerFunc(h.ListTraces)))
	mux.Handle("GET /api/v1/traces/{id}", chain(http.HandlerFunc(h.GetTrace)))

	// Spans
	mux.Handle("GET /api/v1/spans/{id}/chain", chain(http.HandlerFunc(h.GetSpanChain)))

	// Queue + journal
	mux.Handle("GET /api/v1/pending", chain(http.HandlerFunc(h.ListPending)))
	mux.Handle("GET /api/v1/log", chain(http.HandlerFunc(h.GetLog)))

	// Engine
	mux.Handle("GET /api/v1/status", chain(http.HandlerFunc(h.GetStatus)))
	mux.Handle("POST /api/v1/events", chain(http.HandlerFunc(h.PostEvent)))
}
