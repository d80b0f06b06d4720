package domain

import (
	"time"
)

// ActionTrace — UI-проекция одного сквозного flow: все шаги,
// разделяющие общий traceId, в порядке появления.
//
// Проекция живёт в памяти оркестратора и не является ground truth
// (ground truth — Store); после рестарта она восстанавливается
// повторным чтением span'ов и action'ов незавершённых trace.
type ActionTrace struct {
	// TraceID — идентификатор flow.
	TraceID string `json:"trace_id"`

	// Summary — описание flow (обычно из корневого события).
	Summary string `json:"summary"`

	// Steps — шаги в порядке появления.
	Steps []ActionStep `json:"steps"`

	// CreatedAt — время появления flow.
	CreatedAt time.Time `json:"created_at"`
}

// ActionStep — отображаемое состояние одного действия внутри trace.
type ActionStep struct {
	// ActionID — идентификатор действия.
	ActionID string `json:"action_id"`

	// Action — тип действия.
	Action string `json:"action"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Timestamp — время последнего изменения статуса.
	Timestamp time.Time `json:"timestamp"`

	// Reasoning — обоснование/текст ошибки из результата шага.
	Reasoning string `json:"reasoning,omitempty"`

	// SpanID — span, записанный шагом при обработке.
	SpanID string `json:"span_id,omitempty"`

	// Terminal — шаг является финальным для flow.
	Terminal bool `json:"terminal,omitempty"`
}

// FindStep возвращает шаг по actionID или nil.
func (t *ActionTrace) FindStep(actionID string) *ActionStep {
	for i := range t.Steps {
		if t.Steps[i].ActionID == actionID {
			return &t.Steps[i]
		}
	}
	return nil
}

// EnsureStep возвращает существующий шаг или добавляет новый со статусом
// running. Повторное использование существующей записи — шов
// идемпотентности: повторная обработка той же PendingAction после
// рестарта не плодит дубликатов.
func (t *ActionTrace) EnsureStep(actionID, action string, now time.Time) *ActionStep {
	if s := t.FindStep(actionID); s != nil {
		return s
	}
	t.Steps = append(t.Steps, ActionStep{
		ActionID:  actionID,
		Action:    action,
		Status:    StepStatusRunning,
		Timestamp: now,
	})
	return &t.Steps[len(t.Steps)-1]
}

// AppendPendingStep добавляет шаг со статусом pending, если шага с таким
// actionID ещё нет. Используется при применении enqueuedActions.
func (t *ActionTrace) AppendPendingStep(actionID, action, reasoning string, now time.Time) {
	if t.FindStep(actionID) != nil {
		return
	}
	t.Steps = append(t.Steps, ActionStep{
		ActionID:  actionID,
		Action:    action,
		Status:    StepStatusPending,
		Timestamp: now,
		Reasoning: reasoning,
	})
}

// Clone возвращает глубокую копию trace для выдачи наружу.
func (t *ActionTrace) Clone() *ActionTrace {
	cp := *t
	cp.Steps = make([]ActionStep, len(t.Steps))
	copy(cp.Steps, t.Steps)
	return &cp
}
