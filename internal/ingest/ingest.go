// Package ingest превращает внешние события в корневые действия.
//
// Все источники событий (MQ, HTTP API, планировщик) сходятся в одном
// Ingestor: он дедуплицирует событие по externalId, открывает новый
// flow (корневой event-span + coordinate-действие в очереди), отмечает
// курсор и будит оркестратор. Источник не знает про устройство flow —
// он отдаёт Event и получает traceId.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/store"
)

// ErrEmptySummary — событие без описания не принимается: из него не
// собрать осмысленный корневой span.
var ErrEmptySummary = errors.New("event has no summary")

// Drainer будит цикл обработки после приёма события.
type Drainer interface {
	RequestDrain()
}

// Config — зависимости Ingestor.
type Config struct {
	Store store.Store

	// Drainer опционален: без него приём события не будит цикл, и
	// запись ждёт fallback-тика оркестратора.
	Drainer Drainer

	Logger *slog.Logger
}

// Ingestor — единственная точка входа событий в движок.
type Ingestor struct {
	store   store.Store
	drainer Drainer
	logger  *slog.Logger
}

// New создаёт Ingestor.
func New(cfg Config) *Ingestor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:   cfg.Store,
		drainer: cfg.Drainer,
		logger:  logger,
	}
}

// Ingest принимает событие: дедуп по externalId, новый flow с корневым
// span'ом и coordinate-действием в очереди, отметка курсора, запись в
// журнал, пинок цикла. Возвращает traceId нового flow и признак
// дубликата (дубликат — не ошибка, traceId пуст).
//
// Порядок записей выбран под сбои: курсор отмечается после записи
// действия в очередь, поэтому падение посреди приёма даёт повторную
// доставку, а не потерянное событие; сами записи идемпотентны только
// в рамках одного id, так что повтор создаст новый flow — за
// at-most-once отвечает курсор.
func (i *Ingestor) Ingest(ctx context.Context, ev domain.Event) (string, bool, error) {
	if ev.Summary == "" {
		return "", false, ErrEmptySummary
	}

	if ev.ExternalID != "" {
		processed, err := i.store.IsEventProcessed(ctx, ev.ExternalID)
		if err != nil {
			return "", false, fmt.Errorf("check event cursor: %w", err)
		}
		if processed {
			i.logger.Debug("duplicate event ignored", "external_id", ev.ExternalID)
			return "", true, nil
		}
	}

	now := time.Now().UTC()
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	traceID := uuid.NewString()
	rootSpanID := uuid.NewString()
	actionID := uuid.NewString()

	rootMeta := map[string]any{}
	if ev.Kind != "" {
		rootMeta["kind"] = ev.Kind
	}
	if ev.ExternalID != "" {
		rootMeta["external_id"] = ev.ExternalID
	}
	for k, v := range ev.Meta {
		rootMeta[k] = v
	}

	err := i.store.AddSpan(ctx, &domain.Span{
		ID:        rootSpanID,
		TraceID:   traceID,
		Step:      "event",
		Timestamp: receivedAt,
		Summary:   ev.Summary,
		Meta:      rootMeta,
	})
	if err != nil {
		return "", false, fmt.Errorf("record root span: %w", err)
	}

	err = i.store.AddAction(ctx, &domain.Action{
		ID:        actionID,
		TraceID:   traceID,
		Action:    domain.ActionCoordinate,
		SpanID:    rootSpanID,
		Timestamp: now,
		Reasoning: "event received",
	})
	if err != nil {
		return "", false, fmt.Errorf("record coordinate action: %w", err)
	}
	err = i.store.AddPending(ctx, &domain.PendingAction{
		TraceID:   traceID,
		ActionID:  actionID,
		SpanID:    rootSpanID,
		Action:    domain.ActionCoordinate,
		Summary:   ev.Summary,
		CreatedAt: now,
	})
	if err != nil {
		return "", false, fmt.Errorf("enqueue coordinate action: %w", err)
	}

	if ev.ExternalID != "" {
		if err := i.store.MarkEventsProcessed(ctx, []string{ev.ExternalID}); err != nil {
			return "", false, fmt.Errorf("mark event processed: %w", err)
		}
	}

	err = i.store.AppendLog(ctx, &domain.LogEntry{
		Timestamp: now,
		Step:      "ingest",
		TraceID:   traceID,
		ActionID:  actionID,
		Message:   "event accepted: " + ev.Summary,
	})
	if err != nil {
		i.logger.Warn("engine log append failed", "trace_id", traceID, "error", err)
	}

	i.logger.Info("event ingested",
		"trace_id", traceID, "kind", ev.Kind, "external_id", ev.ExternalID)

	if i.drainer != nil {
		i.drainer.RequestDrain()
	}
	return traceID, false, nil
}
