package api

import (
	"context"
	"log/slog"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/orchestrator"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

// Ingestor принимает внешние события движка.
// Реализуется ingest.Ingestor.
type Ingestor interface {
	Ingest(ctx context.Context, ev domain.Event) (traceID string, duplicate bool, err error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	store    store.Store
	orch     *orchestrator.StepOrchestrator
	registry *step.Registry
	ingestor Ingestor
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Store        store.Store
	Orchestrator *orchestrator.StepOrchestrator
	Registry     *step.Registry
	Ingestor     Ingestor
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		store:    cfg.Store,
		orch:     cfg.Orchestrator,
		registry: cfg.Registry,
		ingestor: cfg.Ingestor,
		logger:   logger,
	}
}
