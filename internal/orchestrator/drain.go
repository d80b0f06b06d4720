package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/step"
)

// dispatchEntry — одна запись очереди, назначенная шагу в этом проходе.
type dispatchEntry struct {
	step    step.Step
	pending domain.PendingAction
}

// settledResult — завершившийся Process одной записи.
type settledResult struct {
	entry  dispatchEntry
	result step.Result
	err    error
}

// RequestDrain запускает проход очереди, не дожидаясь fallback-таймера.
//
// Конкурентные заявки коалесцируются: если проход уже идёт, взводится
// один флаг повтора, и по завершении текущего прохода выполняется ровно
// ещё один. Очереди заявок нет.
func (o *StepOrchestrator) RequestDrain() {
	o.stateMu.Lock()
	if !o.started || o.stopped {
		o.stateMu.Unlock()
		return
	}

	o.drainMu.Lock()
	if o.draining {
		o.drainRequested = true
		o.drainMu.Unlock()
		o.stateMu.Unlock()
		return
	}
	o.draining = true
	o.drainMu.Unlock()

	// wg.Add под stateMu: Stop не начнёт wg.Wait между проверкой
	// stopped и регистрацией горутины.
	o.wg.Add(1)
	ctx := o.runCtx
	o.stateMu.Unlock()

	go func() {
		defer o.wg.Done()
		o.drainUntilQuiet(ctx)
	}()
}

// drainUntilQuiet выполняет drain и, если за время его работы пришла
// отложенная заявка, повторяет ровно один раз за заявку.
func (o *StepOrchestrator) drainUntilQuiet(ctx context.Context) {
	for {
		o.drain(ctx)

		o.drainMu.Lock()
		if o.drainRequested && ctx.Err() == nil {
			o.drainRequested = false
			o.drainMu.Unlock()
			continue
		}
		o.drainRequested = false
		o.draining = false
		o.drainMu.Unlock()
		return
	}
}

// drain — один логический drain: проходы повторяются, пока шаги ставят
// новую работу (каскад). Так цепочка event → coordinate → plan → jobs
// проходит за один drain, а не по хопу на тик таймера.
func (o *StepOrchestrator) drain(ctx context.Context) {
	started := time.Now()
	metricDrainsTotal.Inc()

	for {
		hadEnqueued := o.drainPass(ctx)
		if !hadEnqueued || ctx.Err() != nil {
			break
		}
		o.logger.Debug("new work enqueued, cascading")
	}

	metricDrainDuration.Observe(time.Since(started).Seconds())
}

// drainPass — один проход по очереди: мониторы, снапшот, батчи по
// типам, параллельная диспетчеризация, применение результатов.
// Возвращает true, если какой-либо результат поставил новую работу.
func (o *StepOrchestrator) drainPass(ctx context.Context) bool {
	// Мониторы: внешнее состояние могло измениться с прошлого прохода.
	o.runMonitors(ctx)

	pending, err := o.store.GetPending(ctx)
	if err != nil {
		o.logger.Error("failed to read pending queue", "error", err)
		return false
	}
	metricQueueDepth.Set(float64(len(pending)))
	if len(pending) == 0 {
		return false
	}

	// Группируем по типу действия (routing key).
	groups := make(map[string][]domain.PendingAction)
	for _, p := range pending {
		groups[p.Action] = append(groups[p.Action], p)
	}

	// Собираем батчи по типам с учётом in-flight, дедупликации и
	// maxParallel.
	var batch []dispatchEntry
	for actionType, entries := range groups {
		st, err := o.registry.Get(actionType)
		if err != nil {
			// Немаршрутизируемые записи остаются в очереди.
			o.logger.Warn("no step registered for action type",
				"action_type", actionType,
				"count", len(entries),
			)
			continue
		}
		cfg := st.Config()

		entries = o.dropInFlight(actionType, entries)
		if cfg.DedupBy == step.DedupTraceID {
			entries = o.dedupByTrace(ctx, actionType, entries)
		}
		if len(entries) == 0 {
			continue
		}

		maxParallel := cfg.MaxParallel
		if maxParallel <= 0 {
			maxParallel = 1
		}
		available := maxParallel - o.InFlightCount(actionType)
		if available <= 0 {
			o.logger.Debug("no free slots for action type",
				"action_type", actionType,
				"max_parallel", maxParallel,
			)
			continue
		}
		if len(entries) > available {
			entries = entries[:available]
		}

		for _, e := range entries {
			batch = append(batch, dispatchEntry{step: st, pending: e})
		}
	}

	if len(batch) == 0 {
		return false
	}

	// Помечаем in-flight, переводим шаги в running, типы — в processing.
	affected := make(map[string]bool)
	now := time.Now()
	for _, e := range batch {
		o.markInFlight(e.pending.Action, e.pending.ActionID)
		affected[e.pending.Action] = true

		changed := false
		o.mutateTrace(e.pending, func(tr *domain.ActionTrace) {
			prev := tr.FindStep(e.pending.ActionID)
			changed = prev == nil || prev.Status != domain.StepStatusRunning
			s := tr.EnsureStep(e.pending.ActionID, e.pending.Action, now)
			s.Status = domain.StepStatusRunning
			s.Timestamp = now
		})
		if changed {
			o.appendStepLog(ctx, e.pending, domain.StepStatusRunning, "")
		}
	}
	for actionType := range affected {
		o.setStatus(actionType, domain.DispatchProcessing)
	}
	o.notifyTracesUpdated()

	o.logger.Debug("dispatching batch",
		"entries", len(batch),
		"types", len(affected),
	)

	// Все Process запускаются параллельно и завершаются независимо.
	results := o.dispatch(ctx, batch)

	// Применяем результаты; ошибки одного не влияют на соседей.
	hadEnqueued := false
	erroredTypes := make(map[string]bool)
	for _, r := range results {
		enqueued := o.applyResult(ctx, r)
		if enqueued {
			hadEnqueued = true
		}
		if r.err != nil {
			erroredTypes[r.entry.pending.Action] = true
		}
		o.releaseInFlight(r.entry.pending.Action, r.entry.pending.ActionID)
	}

	for actionType := range affected {
		if erroredTypes[actionType] {
			o.setStatus(actionType, domain.DispatchError)
		} else {
			o.setStatus(actionType, domain.DispatchIdle)
		}
	}
	o.notifyTracesUpdated()

	return hadEnqueued
}

// dispatch запускает Process всех записей батча параллельно и ждёт
// завершения всех.
func (o *StepOrchestrator) dispatch(ctx context.Context, batch []dispatchEntry) []settledResult {
	// Остановка оркестратора не прерывает уже запущенные Process:
	// дедлайны — забота самих шагов.
	procCtx := context.WithoutCancel(ctx)

	results := make([]settledResult, len(batch))
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.runStep(procCtx, batch[i])
		}(i)
	}
	wg.Wait()
	return results
}

// runStep вызывает Process одной записи с защитой от паники.
func (o *StepOrchestrator) runStep(ctx context.Context, e dispatchEntry) (res settledResult) {
	res.entry = e
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("step panicked: %v", r)
			o.logger.Error("step panicked",
				"action_type", e.pending.Action,
				"action_id", e.pending.ActionID,
				"panic", r,
			)
		}
	}()

	sc := step.Context{
		Trace: o.traceSnapshot(e.pending),
		Logger: o.logger.With(
			"step", e.pending.Action,
			"trace_id", e.pending.TraceID,
			"action_id", e.pending.ActionID,
		),
	}

	res.result, res.err = e.step.Process(ctx, e.pending, sc)
	return res
}

// runMonitors вызывает Monitor всех шагов, у которых он есть.
// Ошибка монитора логируется и не останавливает проход.
func (o *StepOrchestrator) runMonitors(ctx context.Context) {
	for _, actionType := range o.registry.Types() {
		st, err := o.registry.Get(actionType)
		if err != nil {
			continue
		}
		mon, ok := st.(step.Monitor)
		if !ok {
			continue
		}

		muts, err := mon.Monitor(ctx, step.MonitorContext{
			Logger: o.logger.With("step", actionType),
		})
		if err != nil {
			o.logger.Warn("monitor failed",
				"action_type", actionType,
				"error", err,
			)
			continue
		}
		if muts != nil && len(muts.StepUpdates) > 0 {
			o.applyTraceMutations("", muts)
			o.notifyTracesUpdated()
		}
	}
}

// dropInFlight отфильтровывает записи, уже находящиеся в обработке.
func (o *StepOrchestrator) dropInFlight(actionType string, entries []domain.PendingAction) []domain.PendingAction {
	out := entries[:0:0]
	for _, e := range entries {
		if o.isInFlight(actionType, e.ActionID) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// dedupByTrace оставляет по одной записи на traceId — самую свежую.
// Вытесненные записи снимаются с очереди без обработки: для таких
// шагов важно только последнее намерение flow.
func (o *StepOrchestrator) dedupByTrace(ctx context.Context, actionType string, entries []domain.PendingAction) []domain.PendingAction {
	newest := make(map[string]domain.PendingAction)
	for _, e := range entries {
		cur, exists := newest[e.TraceID]
		if !exists || e.CreatedAt.After(cur.CreatedAt) {
			newest[e.TraceID] = e
		}
	}
	if len(newest) == len(entries) {
		return entries
	}

	out := entries[:0:0]
	for _, e := range entries {
		if newest[e.TraceID].ActionID == e.ActionID {
			out = append(out, e)
			continue
		}

		if err := o.store.RemovePending(ctx, e.ActionID); err != nil {
			o.logger.Error("failed to remove superseded entry",
				"action_type", actionType,
				"action_id", e.ActionID,
				"error", err,
			)
			continue
		}
		o.logger.Debug("superseded entry removed",
			"action_type", actionType,
			"action_id", e.ActionID,
			"trace_id", e.TraceID,
		)
	}
	return out
}
