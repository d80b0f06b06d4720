package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// defaultCheckInterval — период проверки триггеров.
const defaultCheckInterval = 30 * time.Second

// Ingestor принимает синтетические события планировщика.
type Ingestor interface {
	Ingest(ctx context.Context, ev domain.Event) (string, bool, error)
}

// Scheduler — планировщик, порождающий события по расписанию.
type Scheduler struct {
	triggers []*domain.Trigger
	ingestor Ingestor
	logger   *slog.Logger
	interval time.Duration
}

// Config — конфигурация Scheduler.
type Config struct {
	// Triggers — объявленные в конфигурации расписания.
	Triggers []domain.Trigger

	// Ingestor — приём порождённых событий.
	Ingestor Ingestor

	Logger *slog.Logger

	// Interval — период проверки (default: 30s).
	Interval time.Duration
}

// New создаёт Scheduler, валидирует триггеры и вычисляет первые
// времена срабатывания. Некорректный триггер — ошибка конструктора,
// а не тихий пропуск в рантайме.
func New(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	now := time.Now()
	seen := make(map[string]bool, len(cfg.Triggers))
	triggers := make([]*domain.Trigger, 0, len(cfg.Triggers))
	for i := range cfg.Triggers {
		t := cfg.Triggers[i] // копия: конфигурация не мутируется
		if t.Name == "" {
			return nil, fmt.Errorf("trigger without a name")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate trigger name %q", t.Name)
		}
		seen[t.Name] = true
		if t.Directive == "" {
			return nil, fmt.Errorf("trigger %q has no directive", t.Name)
		}
		if t.IsCron() {
			if err := ValidateCronExpr(t.CronExpr); err != nil {
				return nil, fmt.Errorf("trigger %q: %w", t.Name, err)
			}
		}

		next, err := CalculateNextDue(&t, now)
		if err != nil {
			return nil, err
		}
		t.NextDueAt = &next
		triggers = append(triggers, &t)
	}

	return &Scheduler{
		triggers: triggers,
		ingestor: cfg.Ingestor,
		logger:   logger,
		interval: interval,
	}, nil
}

// Run крутит цикл проверки до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.triggers) == 0 {
		s.logger.Info("scheduler has no triggers, idling")
		<-ctx.Done()
		return ctx.Err()
	}

	s.logger.Info("scheduler started",
		"triggers", len(s.triggers), "check_interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick выполняет один проход по триггерам.
//
// Для каждого due-триггера порождается событие с детерминированным
// externalId ("sched_<name>_<dueUnix>"): при повторной доставке после
// сбоя курсор дедупликации не даст открыть второй flow. Ошибка одного
// триггера не блокирует остальные.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, trigger := range s.triggers {
		if !trigger.IsDue(now) {
			continue
		}
		if err := s.fire(ctx, trigger, now); err != nil {
			s.logger.Error("trigger fire failed",
				"trigger", trigger.Name, "error", err)
		}
	}
}

// fire порождает событие триггера и сдвигает следующее время.
func (s *Scheduler) fire(ctx context.Context, trigger *domain.Trigger, now time.Time) error {
	due := *trigger.NextDueAt

	traceID, dup, err := s.ingestor.Ingest(ctx, domain.Event{
		ExternalID: fmt.Sprintf("sched_%s_%d", trigger.Name, due.Unix()),
		Kind:       "schedule",
		Summary:    trigger.Directive,
		Meta:       map[string]any{"trigger": trigger.Name},
		ReceivedAt: now,
	})
	if err != nil {
		// Следующее время не сдвигается: триггер попробует снова на
		// следующем тике с тем же externalId.
		return fmt.Errorf("ingest trigger event: %w", err)
	}
	if dup {
		s.logger.Debug("trigger event already processed", "trigger", trigger.Name, "due", due)
	} else {
		s.logger.Info("trigger fired",
			"trigger", trigger.Name, "trace_id", traceID, "due", due)
	}

	// Пропущенные срабатывания не навёрстываются: следующее время
	// считается от текущего момента, одно срабатывание за пробуждение.
	next, err := CalculateNextDue(trigger, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}
	trigger.RecordFire(now, next)
	return nil
}

// Triggers возвращает снапшот состояния триггеров для статуса.
func (s *Scheduler) Triggers() []domain.Trigger {
	out := make([]domain.Trigger, len(s.triggers))
	for i, t := range s.triggers {
		out[i] = *t
	}
	return out
}
