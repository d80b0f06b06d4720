package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

// Default configuration values.
const (
	defaultDrainInterval = 30 * time.Second
)

// TracesObserver — уведомление об изменении trace-проекции.
// Наблюдатель забирает свежий снапшот через Traces().
type TracesObserver func()

// StatusObserver — уведомление о смене статуса диспетчеризации типа.
type StatusObserver func(actionType string, status domain.DispatchStatus, processed int)

// StepOrchestrator управляет обработкой очереди действий.
//
// StepOrchestrator — центральный компонент движка, который:
//   - Периодически и по запросу проходит очередь pending (drain)
//   - Маршрутизирует записи по типу действия к зарегистрированным шагам
//   - Ограничивает параллелизм каждого типа его maxParallel
//   - Каскадно повторяет проход, пока шаги ставят новую работу
//   - Ведёт в памяти trace-проекцию всех flow
type StepOrchestrator struct {
	store    store.Store
	registry *step.Registry

	// Trace-проекция: traceId → trace. Принадлежит оркестратору;
	// шаги видят только копию своего trace.
	traces   map[string]*domain.ActionTrace
	tracesMu sync.RWMutex

	// In-flight: тип действия → множество actionId в обработке.
	inFlight   map[string]map[string]bool
	inFlightMu sync.Mutex

	// Статусы диспетчеризации и счётчики обработанных по типам.
	statuses  map[string]domain.DispatchStatus
	processed map[string]int
	statusMu  sync.Mutex

	// Коалесцирование drain: во время прохода копятся не заявки,
	// а один флаг повтора.
	drainMu        sync.Mutex
	draining       bool
	drainRequested bool

	// Observers
	onTracesUpdated TracesObserver
	onStatusChanged StatusObserver

	// Configuration
	drainInterval time.Duration

	// Lifecycle
	logger     *slog.Logger
	runCtx     context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool
	stateMu    sync.Mutex
}

// Config — конфигурация StepOrchestrator.
type Config struct {
	// Store — долговечное хранилище движка.
	Store store.Store

	// Registry — реестр шагов по типу действия.
	Registry *step.Registry

	// DrainInterval — интервал fallback-таймера (default: 30s).
	// Таймер гарантирует прогресс monitor-шагов и работы, оставшейся
	// после рестарта; основной путь — каскад и RequestDrain.
	DrainInterval time.Duration

	// OnTracesUpdated вызывается после каждого изменения trace-проекции.
	OnTracesUpdated TracesObserver

	// OnStatusChanged вызывается при смене статуса диспетчеризации типа.
	OnStatusChanged StatusObserver

	// Logger
	Logger *slog.Logger
}

// New создаёт новый StepOrchestrator.
func New(cfg Config) *StepOrchestrator {
	drainInterval := cfg.DrainInterval
	if drainInterval <= 0 {
		drainInterval = defaultDrainInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StepOrchestrator{
		store:           cfg.Store,
		registry:        cfg.Registry,
		traces:          make(map[string]*domain.ActionTrace),
		inFlight:        make(map[string]map[string]bool),
		statuses:        make(map[string]domain.DispatchStatus),
		processed:       make(map[string]int),
		onTracesUpdated: cfg.OnTracesUpdated,
		onStatusChanged: cfg.OnStatusChanged,
		drainInterval:   drainInterval,
		logger:          logger,
	}
}

// Start запускает оркестратор.
//
// Восстанавливает trace-проекцию из Store, выполняет первый проход
// сразу и взводит fallback-таймер.
func (o *StepOrchestrator) Start(ctx context.Context) error {
	o.stateMu.Lock()
	if o.started {
		o.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	o.runCtx = ctx
	o.cancelFunc = cancel
	o.started = true
	o.stateMu.Unlock()

	o.logger.Info("starting orchestrator",
		"drain_interval", o.drainInterval,
		"step_types", o.registry.Types(),
	)

	if err := o.restoreTraces(ctx); err != nil {
		return fmt.Errorf("restore traces: %w", err)
	}

	// Первый проход сразу: подхватываем очередь, оставшуюся с
	// прошлого запуска.
	o.RequestDrain()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.tickLoop(ctx)
	}()

	o.logger.Info("orchestrator started", "traces", o.TraceCount())
	return nil
}

// Stop останавливает оркестратор.
//
// Гасит fallback-таймер и новые проходы; уже запущенные Process не
// прерываются — Stop дожидается их завершения.
func (o *StepOrchestrator) Stop() {
	o.stateMu.Lock()
	if !o.started || o.stopped {
		o.stateMu.Unlock()
		return
	}
	o.stopped = true
	o.stateMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped", "traces", o.TraceCount())
}

// tickLoop — fallback-таймер: страхует прогресс, когда каскад и
// внешние RequestDrain молчат (monitor-шаги, восстановление).
func (o *StepOrchestrator) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(o.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RequestDrain()
		}
	}
}

// Traces возвращает снапшот всех trace по времени появления.
func (o *StepOrchestrator) Traces() []domain.ActionTrace {
	o.tracesMu.RLock()
	defer o.tracesMu.RUnlock()

	traces := make([]domain.ActionTrace, 0, len(o.traces))
	for _, tr := range o.traces {
		traces = append(traces, *tr.Clone())
	}
	sort.Slice(traces, func(i, j int) bool {
		if traces[i].CreatedAt.Equal(traces[j].CreatedAt) {
			return traces[i].TraceID < traces[j].TraceID
		}
		return traces[i].CreatedAt.Before(traces[j].CreatedAt)
	})
	return traces
}

// Trace возвращает копию trace по ID или ErrTraceNotFound.
func (o *StepOrchestrator) Trace(traceID string) (*domain.ActionTrace, error) {
	o.tracesMu.RLock()
	defer o.tracesMu.RUnlock()

	tr, exists := o.traces[traceID]
	if !exists {
		return nil, ErrTraceNotFound
	}
	return tr.Clone(), nil
}

// TraceCount возвращает количество trace в проекции.
func (o *StepOrchestrator) TraceCount() int {
	o.tracesMu.RLock()
	defer o.tracesMu.RUnlock()
	return len(o.traces)
}

// Status возвращает статус диспетчеризации типа действия.
func (o *StepOrchestrator) Status(actionType string) domain.DispatchStatus {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	status, exists := o.statuses[actionType]
	if !exists {
		return domain.DispatchIdle
	}
	return status
}

// Statuses возвращает статусы диспетчеризации всех известных типов.
func (o *StepOrchestrator) Statuses() map[string]domain.DispatchStatus {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	statuses := make(map[string]domain.DispatchStatus, len(o.statuses))
	for t, s := range o.statuses {
		statuses[t] = s
	}
	return statuses
}

// ProcessedCount возвращает счётчик обработанных действий типа.
func (o *StepOrchestrator) ProcessedCount(actionType string) int {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.processed[actionType]
}

// InFlightCount возвращает число действий типа в обработке.
func (o *StepOrchestrator) InFlightCount(actionType string) int {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	return len(o.inFlight[actionType])
}

// markInFlight помечает действие как находящееся в обработке.
func (o *StepOrchestrator) markInFlight(actionType, actionID string) {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()

	set, exists := o.inFlight[actionType]
	if !exists {
		set = make(map[string]bool)
		o.inFlight[actionType] = set
	}
	set[actionID] = true
	metricInFlight.WithLabelValues(actionType).Set(float64(len(set)))
}

// releaseInFlight снимает пометку обработки с действия.
func (o *StepOrchestrator) releaseInFlight(actionType, actionID string) {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()

	set := o.inFlight[actionType]
	delete(set, actionID)
	metricInFlight.WithLabelValues(actionType).Set(float64(len(set)))
}

// isInFlight проверяет, обрабатывается ли действие сейчас.
func (o *StepOrchestrator) isInFlight(actionType, actionID string) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	return o.inFlight[actionType][actionID]
}

// setStatus переводит тип действия в новый статус диспетчеризации и
// уведомляет наблюдателя, если статус изменился.
func (o *StepOrchestrator) setStatus(actionType string, status domain.DispatchStatus) {
	o.statusMu.Lock()
	prev, exists := o.statuses[actionType]
	if !exists {
		prev = domain.DispatchIdle
	}
	o.statuses[actionType] = status
	processed := o.processed[actionType]
	o.statusMu.Unlock()

	if prev == status {
		return
	}

	o.logger.Debug("dispatch status changed",
		"action_type", actionType,
		"status", string(status),
		"processed", processed,
	)
	if o.onStatusChanged != nil {
		o.onStatusChanged(actionType, status, processed)
	}
}

// incrementProcessed увеличивает счётчик обработанных действий типа.
func (o *StepOrchestrator) incrementProcessed(actionType string) {
	o.statusMu.Lock()
	o.processed[actionType]++
	o.statusMu.Unlock()
	metricActionsProcessed.WithLabelValues(actionType).Inc()
}

// notifyTracesUpdated уведомляет наблюдателя об изменении проекции.
func (o *StepOrchestrator) notifyTracesUpdated() {
	if o.onTracesUpdated != nil {
		o.onTracesUpdated()
	}
}
