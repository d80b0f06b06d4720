package step

import (
	"context"
	"errors"
	"log/slog"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// Ошибки протокола шагов.
var (
	// ErrStepNotFound — тип действия не зарегистрирован в реестре.
	ErrStepNotFound = errors.New("step type not found")
)

// DedupTraceID — единственная поддерживаемая стратегия дедупликации:
// не больше одной записи на traceId в батче.
const DedupTraceID = "traceId"

// Config — статические параметры шага.
type Config struct {
	// ActionType — тип действий из очереди, который обслуживает шаг.
	ActionType string

	// MaxParallel — максимум одновременных Process для этого типа.
	MaxParallel int

	// DedupBy — стратегия дедупликации батча: "" или DedupTraceID.
	DedupBy string
}

// Step — обработчик одного типа действий.
//
// Process получает запись очереди и выполняет шаг: пишет свои
// Action/Span/PendingAction в Store и возвращает Result. Порядок
// записи при постановке следующего действия: сначала Action, затем
// завершение span'а предыдущего шага, затем PendingAction.
//
// Статус StepStatusPending означает, что работа продолжается во
// внешней системе: запись остаётся в очереди, и шаг будет вызван для
// неё снова на следующем проходе.
type Step interface {
	// Config возвращает статические параметры шага.
	Config() Config

	// Process обрабатывает одну запись очереди.
	Process(ctx context.Context, pending domain.PendingAction, sc Context) (Result, error)
}

// Monitor — необязательное расширение Step: сверка внешнего состояния
// перед каждым проходом диспетчеризации. Оркестратор обнаруживает его
// через type assertion.
type Monitor interface {
	Monitor(ctx context.Context, mc MonitorContext) (*TraceMutations, error)
}

// Context — данные, передаваемые шагу на время Process.
type Context struct {
	// Trace — копия текущего trace записи. Шаг читает её и не видит
	// живой карты оркестратора.
	Trace *domain.ActionTrace

	// Logger — логгер с полями trace_id и action_id записи.
	Logger *slog.Logger
}

// MonitorContext — данные для Monitor-прохода.
type MonitorContext struct {
	Logger *slog.Logger
}

// Result — итог одного вызова Process.
type Result struct {
	// SpanID — span, созданный шагом для этой записи, если был.
	SpanID string

	// Terminal — шаг финальный: после него flow считается завершённым.
	Terminal bool

	// Status — статус шага. Пустой статус трактуется как completed.
	// StepStatusPending оставляет запись в очереди.
	Status domain.StepStatus

	// Reasoning — человекочитаемое объяснение результата.
	Reasoning string

	// EnqueuedActions — действия, поставленные шагом в очередь во время
	// Process. Оркестратор добавляет их в trace pending-шагами и
	// запускает каскадный проход.
	EnqueuedActions []EnqueuedAction

	// TraceMutations — точечные правки статусов уже существующих шагов.
	TraceMutations *TraceMutations
}

// EnqueuedAction — одно действие, поставленное шагом в очередь.
type EnqueuedAction struct {
	ActionID string
	Action   string
	Summary  string
}

// TraceMutations — правки статусов шагов в trace.
type TraceMutations struct {
	StepUpdates []StepUpdate
}

// StepUpdate — перевод шага actionId в новый статус.
type StepUpdate struct {
	// TraceID — flow, которому принадлежит шаг. Пустой означает flow
	// текущей записи.
	TraceID string

	ActionID  string
	Status    domain.StepStatus
	Reasoning string
}
