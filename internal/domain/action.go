package domain

import (
	"time"
)

// Известные типы действий. Тип действия — это ключ маршрутизации:
// PendingAction.Action сопоставляется с StepConfig.ActionType.
const (
	ActionCoordinate = "coordinate"
	ActionPlan       = "plan"
	ActionWorkflow   = "workflow"
	ActionCommit     = "commit"
	ActionResolve    = "resolve"
	ActionPush       = "push"
)

// Ключи meta, разделяемые шагами.
const (
	// MetaSourceActionID — actionId шага, породившего это действие.
	// Используется commit/resolve для поиска TaskMapping.
	MetaSourceActionID = "source_action_id"

	// MetaDependsOnActionID — actionId задачи, от которой зависит
	// запланированная задача (результат резолвинга Planner'а).
	MetaDependsOnActionID = "depends_on_action_id"
)

// Action — неизменяемая запись журнала о решении выполнить работу.
//
// Action пишется один раз и никогда не удаляется: вместе со span'ами
// это аудиторский след. Одно действие при обработке может породить
// дочерний span.
type Action struct {
	// ID — уникальный идентификатор действия.
	ID string `json:"id"`

	// TraceID — flow, к которому относится действие.
	TraceID string `json:"trace_id"`

	// Action — тип-тег: "plan", "workflow", "commit", "resolve"...
	Action string `json:"action"`

	// SpanID — span, из-за которого действие появилось.
	SpanID string `json:"span_id"`

	// Timestamp — время записи.
	Timestamp time.Time `json:"timestamp"`

	// Meta — произвольный payload (директива, зависимости, workflow).
	Meta map[string]any `json:"meta,omitempty"`

	// Reasoning — необязательное обоснование решения.
	Reasoning string `json:"reasoning,omitempty"`
}

// PendingAction — мутабельная запись очереди работ.
//
// Инвариант: каждой PendingAction соответствует ровно один ранее
// записанный Action с тем же ActionID. Запись снимается с очереди
// только после терминального (completed|failed|error) результата шага;
// результат "pending" оставляет её для следующей попытки.
type PendingAction struct {
	// TraceID — группирует все действия одного сквозного flow.
	TraceID string `json:"trace_id"`

	// ActionID — идентификатор соответствующего Action.
	ActionID string `json:"action_id"`

	// SpanID — span-источник.
	SpanID string `json:"span_id"`

	// Action — ключ маршрутизации (тип шага).
	Action string `json:"action"`

	// Summary — человекочитаемое описание работы.
	Summary string `json:"summary"`

	// CreatedAt — время постановки в очередь.
	CreatedAt time.Time `json:"created_at"`

	// Meta — payload для шага-обработчика.
	Meta map[string]any `json:"meta,omitempty"`
}

// MetaString возвращает строковое значение из Meta или "".
func (p *PendingAction) MetaString(key string) string {
	if p.Meta == nil {
		return ""
	}
	if v, ok := p.Meta[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool возвращает булево значение из Meta или false.
func (p *PendingAction) MetaBool(key string) bool {
	if p.Meta == nil {
		return false
	}
	if v, ok := p.Meta[key].(bool); ok {
		return v
	}
	return false
}

// TaskMapping — связь действия с созданной им единицей работы.
//
// Пишется workflow-шагом при запуске задачи; commit и resolve находят
// по sourceActionId задачу и ветку, с которыми нужно работать.
type TaskMapping struct {
	// ActionID — действие, породившее задачу.
	ActionID string `json:"action_id"`

	// TaskID — идентификатор задачи во внешнем инструменте.
	TaskID string `json:"task_id"`

	// BranchName — ветка/worktree задачи.
	BranchName string `json:"branch_name"`
}
