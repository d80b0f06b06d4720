package domain

import (
	"time"
)

// Span — узел дерева происхождения (provenance).
//
// Span фиксирует "почему это произошло": каждый шаг открывает дочерний
// span, ссылаясь на родителя, и цепочка parent-ссылок восстанавливает
// причинный путь от исходного события до любого решения.
//
// Span неизменяем после записи. Завершение ("completed"/"failed"/"error")
// записывается отдельной записью-оверлеем, не мутацией исходного span
// (см. Store.CompleteSpan).
type Span struct {
	// ID — уникальный идентификатор span.
	ID string `json:"id"`

	// TraceID — сквозной идентификатор flow, к которому относится span.
	// Индексное поле для восстановления trace после рестарта.
	TraceID string `json:"trace_id"`

	// ActionID — действие, при обработке которого открыт span.
	// Пусто для корневых event-span'ов.
	ActionID string `json:"action_id,omitempty"`

	// Step — метка шага: "event", "coordinate", "plan", "workflow",
	// "commit", "resolve", "push".
	Step string `json:"step"`

	// Parent — ID родительского span. Пусто только у корневых span'ов.
	Parent string `json:"parent,omitempty"`

	// Timestamp — время создания span.
	Timestamp time.Time `json:"timestamp"`

	// Summary — человекочитаемое описание.
	Summary string `json:"summary"`

	// Meta — произвольный структурированный payload.
	Meta map[string]any `json:"meta,omitempty"`

	// Поля завершения. Заполняются из записи-оверлея при чтении;
	// у незавершённого span Status пуст.

	// Status — терминальный статус: completed, failed или error.
	Status StepStatus `json:"status,omitempty"`

	// CompletedAt — время записи завершения.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ResultSummary — итоговое описание (например текст ошибки).
	ResultSummary string `json:"result_summary,omitempty"`

	// Result — структурированный итог завершения.
	Result map[string]any `json:"result,omitempty"`
}

// IsCompleted возвращает true, если для span записано завершение.
func (s *Span) IsCompleted() bool {
	return s.Status != ""
}

// IsRoot возвращает true для корневого (event) span.
func (s *Span) IsRoot() bool {
	return s.Parent == ""
}
