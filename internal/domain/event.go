package domain

import (
	"time"
)

// Event — внешнее событие, поступающее в autopilot.
//
// Producer (поллер форжа, MQ, планировщик, HTTP API) передаёт Event в
// ingest; по ExternalID работает дедупликация, так что одно и то же
// внешнее событие никогда не превращается в два корневых действия.
type Event struct {
	// ExternalID — идентификатор события у источника (ключ дедупа).
	ExternalID string `json:"external_id"`

	// Kind — вид события: "issue", "push", "schedule", "manual"...
	Kind string `json:"kind"`

	// Summary — человекочитаемое описание.
	Summary string `json:"summary"`

	// Meta — произвольный payload источника.
	Meta map[string]any `json:"meta,omitempty"`

	// ReceivedAt — время приёма. Пустое значение заполняется ingest'ом.
	ReceivedAt time.Time `json:"received_at"`
}

// LogEntry — запись плоского append-only журнала движка.
//
// Журнал отделён от span'ов: это человекочитаемая лента переходов для
// внешних вьюеров, а не структура происхождения.
type LogEntry struct {
	// ID — порядковый номер записи (назначается Store).
	ID int64 `json:"id"`

	// Timestamp — время записи.
	Timestamp time.Time `json:"timestamp"`

	// Step — шаг, от имени которого запись сделана.
	Step string `json:"step"`

	// TraceID — flow, к которому относится запись (опционально).
	TraceID string `json:"trace_id,omitempty"`

	// ActionID — действие, к которому относится запись (опционально).
	ActionID string `json:"action_id,omitempty"`

	// Message — текст записи.
	Message string `json:"message"`
}
