package orchestrator

import (
	"context"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/step"
)

// mutateTrace выполняет fn над trace записи под локом, создавая trace
// при первом обращении.
func (o *StepOrchestrator) mutateTrace(pending domain.PendingAction, fn func(*domain.ActionTrace)) {
	o.tracesMu.Lock()
	defer o.tracesMu.Unlock()
	fn(o.getOrCreateTraceLocked(pending))
}

// getOrCreateTraceLocked возвращает trace записи, создавая новый при
// первом обращении. Вызывается под tracesMu.
func (o *StepOrchestrator) getOrCreateTraceLocked(pending domain.PendingAction) *domain.ActionTrace {
	tr, exists := o.traces[pending.TraceID]
	if exists {
		return tr
	}

	createdAt := pending.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tr = &domain.ActionTrace{
		TraceID:   pending.TraceID,
		Summary:   pending.Summary,
		CreatedAt: createdAt,
	}
	o.traces[pending.TraceID] = tr
	return tr
}

// traceSnapshot возвращает копию trace записи для передачи шагу.
func (o *StepOrchestrator) traceSnapshot(pending domain.PendingAction) *domain.ActionTrace {
	o.tracesMu.Lock()
	defer o.tracesMu.Unlock()
	return o.getOrCreateTraceLocked(pending).Clone()
}

// applyResult применяет итог одного Process к trace и очереди.
// Возвращает true, если результат поставил новую работу.
func (o *StepOrchestrator) applyResult(ctx context.Context, r settledResult) bool {
	pending := r.entry.pending
	now := time.Now()

	if r.err != nil {
		// Ошибка Process: шаг помечается failed, запись снимается с
		// очереди. Автоматических повторов нет; шаг, которому нужен
		// повтор, ставит себя в очередь заново с новым actionId.
		o.logger.Error("step failed",
			"action_type", pending.Action,
			"action_id", pending.ActionID,
			"trace_id", pending.TraceID,
			"error", r.err,
		)
		o.mutateTrace(pending, func(tr *domain.ActionTrace) {
			s := tr.EnsureStep(pending.ActionID, pending.Action, now)
			s.Status = domain.StepStatusFailed
			s.Reasoning = r.err.Error()
			s.Timestamp = now
		})
		if err := o.store.RemovePending(ctx, pending.ActionID); err != nil {
			o.logger.Error("failed to remove pending entry",
				"action_id", pending.ActionID,
				"error", err,
			)
		}
		metricActionsFailed.WithLabelValues(pending.Action).Inc()
		o.appendStepLog(ctx, pending, domain.StepStatusFailed, r.err.Error())
		return false
	}

	result := r.result

	// "Не готово": запись остаётся в очереди, статус шага pending,
	// больше ничего в trace не меняется.
	if result.Status == domain.StepStatusPending {
		o.mutateTrace(pending, func(tr *domain.ActionTrace) {
			s := tr.EnsureStep(pending.ActionID, pending.Action, now)
			s.Status = domain.StepStatusPending
			s.Timestamp = now
		})
		return false
	}

	status := result.Status
	if status == "" {
		status = domain.StepStatusCompleted
	}

	o.mutateTrace(pending, func(tr *domain.ActionTrace) {
		s := tr.EnsureStep(pending.ActionID, pending.Action, now)
		s.Status = status
		s.Timestamp = now
		s.Reasoning = result.Reasoning
		s.SpanID = result.SpanID
		s.Terminal = result.Terminal

		// Поставленные действия добавляются pending-шагами до
		// traceMutations: шаг может поставить продолжение и сразу же
		// закрыть его в том же результате.
		for _, ea := range result.EnqueuedActions {
			tr.AppendPendingStep(ea.ActionID, ea.Action, ea.Summary, now)
		}
	})

	if result.TraceMutations != nil {
		o.applyTraceMutations(pending.TraceID, result.TraceMutations)
	}

	// Терминальный результат снимает запись с очереди.
	if err := o.store.RemovePending(ctx, pending.ActionID); err != nil {
		o.logger.Error("failed to remove pending entry",
			"action_id", pending.ActionID,
			"error", err,
		)
	}

	o.incrementProcessed(pending.Action)
	if status == domain.StepStatusFailed || status == domain.StepStatusError {
		metricActionsFailed.WithLabelValues(pending.Action).Inc()
	}
	o.appendStepLog(ctx, pending, status, result.Reasoning)

	return len(result.EnqueuedActions) > 0
}

// applyTraceMutations применяет точечные правки статусов шагов.
// Пустой TraceID правки означает defaultTraceID.
func (o *StepOrchestrator) applyTraceMutations(defaultTraceID string, muts *step.TraceMutations) {
	o.tracesMu.Lock()
	defer o.tracesMu.Unlock()

	now := time.Now()
	for _, upd := range muts.StepUpdates {
		traceID := upd.TraceID
		if traceID == "" {
			traceID = defaultTraceID
		}
		if traceID == "" {
			o.logger.Warn("step update without trace id skipped",
				"action_id", upd.ActionID,
			)
			continue
		}

		tr, exists := o.traces[traceID]
		if !exists {
			o.logger.Warn("step update for unknown trace skipped",
				"trace_id", traceID,
				"action_id", upd.ActionID,
			)
			continue
		}
		s := tr.FindStep(upd.ActionID)
		if s == nil {
			o.logger.Warn("step update for unknown action skipped",
				"trace_id", traceID,
				"action_id", upd.ActionID,
			)
			continue
		}

		s.Status = upd.Status
		s.Timestamp = now
		if upd.Reasoning != "" {
			s.Reasoning = upd.Reasoning
		}
	}
}

// appendStepLog пишет переход шага в плоский журнал.
func (o *StepOrchestrator) appendStepLog(ctx context.Context, pending domain.PendingAction, status domain.StepStatus, message string) {
	msg := string(status)
	if message != "" {
		msg += ": " + message
	}
	err := o.store.AppendLog(ctx, &domain.LogEntry{
		Timestamp: time.Now(),
		Step:      pending.Action,
		TraceID:   pending.TraceID,
		ActionID:  pending.ActionID,
		Message:   msg,
	})
	if err != nil {
		o.logger.Warn("failed to append engine log", "error", err)
	}
}

// restoreTraces восстанавливает trace-проекцию из Store после рестарта.
// Ground truth — записи Store; проекция строится повторным чтением
// action'ов, span'ов и очереди каждого trace.
func (o *StepOrchestrator) restoreTraces(ctx context.Context) error {
	ids, err := o.store.ListTraceIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pending, err := o.store.GetPending(ctx)
	if err != nil {
		return err
	}
	pendingSet := make(map[string]bool, len(pending))
	for _, p := range pending {
		pendingSet[p.ActionID] = true
	}

	restored := 0
	for _, traceID := range ids {
		tr, err := o.rebuildTrace(ctx, traceID, pendingSet)
		if err != nil {
			o.logger.Warn("failed to rebuild trace",
				"trace_id", traceID,
				"error", err,
			)
			continue
		}

		o.tracesMu.Lock()
		o.traces[traceID] = tr
		o.tracesMu.Unlock()
		restored++
	}

	o.logger.Info("traces restored", "count", restored)
	o.notifyTracesUpdated()
	return nil
}

// rebuildTrace строит проекцию одного trace из записей Store.
//
// Статус шага выводится из долговечного состояния: запись в очереди —
// pending; завершение span'а шага — его терминальный статус; иначе
// completed.
func (o *StepOrchestrator) rebuildTrace(ctx context.Context, traceID string, pendingSet map[string]bool) (*domain.ActionTrace, error) {
	actions, err := o.store.ListActionsByTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	spans, err := o.store.ListSpansByTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}

	tr := &domain.ActionTrace{TraceID: traceID}

	// Корневой span даёт сводку и время появления flow.
	spanByAction := make(map[string]*domain.Span)
	for i := range spans {
		s := &spans[i]
		if s.IsRoot() && tr.Summary == "" {
			tr.Summary = s.Summary
			tr.CreatedAt = s.Timestamp
		}
		if s.ActionID != "" {
			spanByAction[s.ActionID] = s
		}
	}
	if tr.CreatedAt.IsZero() && len(actions) > 0 {
		tr.CreatedAt = actions[0].Timestamp
	}

	for _, a := range actions {
		s := domain.ActionStep{
			ActionID:  a.ID,
			Action:    a.Action,
			Timestamp: a.Timestamp,
			Reasoning: a.Reasoning,
		}
		sp := spanByAction[a.ID]
		switch {
		case pendingSet[a.ID]:
			s.Status = domain.StepStatusPending
		case sp != nil && sp.IsCompleted():
			s.Status = sp.Status
			s.SpanID = sp.ID
			if sp.ResultSummary != "" {
				s.Reasoning = sp.ResultSummary
			}
		default:
			s.Status = domain.StepStatusCompleted
			if sp != nil {
				s.SpanID = sp.ID
			}
		}
		tr.Steps = append(tr.Steps, s)
	}

	return tr, nil
}
