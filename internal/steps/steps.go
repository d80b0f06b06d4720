package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/endorhq/rover-sub001/internal/agent"
	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/gitops"
	"github.com/endorhq/rover-sub001/internal/project"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

// Пределы параллелизма по умолчанию для каждого типа шага.
const (
	defaultCoordinateParallel = 1
	defaultPlanParallel       = 1
	defaultWorkflowParallel   = 2
	defaultCommitParallel     = 1
	defaultResolveParallel    = 4
	defaultPushParallel       = 1
)

// readOnlyTools — инструменты, разрешённые агенту в reasoning-вызовах
// триажа и планирования: смотреть можно, менять нельзя.
var readOnlyTools = []string{"read", "grep", "glob", "ls"}

// Deps — общие зависимости шагов конвейера.
type Deps struct {
	Store    store.Store
	Invoker  agent.Invoker
	Project  project.Project
	Launcher project.Launcher
	Git      gitops.Git

	// Workspace — корень репозитория, в котором работает движок.
	Workspace string

	// Workflows — allow-list видов workflow, которые планировщику
	// разрешено назначать задачам.
	Workflows []string

	// Attribution — трейлер, добавляемый к commit-сообщениям. Пусто —
	// не добавлять.
	Attribution string

	// AutoPush — отправлять ветку после успешного коммита.
	AutoPush bool

	// Remote — имя удалённого репозитория для push.
	Remote string

	// MergeBack — вливать ветку задачи в рабочую копию на resolve.
	MergeBack bool

	// MaxParallel — переопределения предела параллелизма по типу шага.
	MaxParallel map[string]int
}

func (d Deps) maxFor(actionType string, def int) int {
	if v, ok := d.MaxParallel[actionType]; ok && v > 0 {
		return v
	}
	return def
}

// RegisterDefaults регистрирует полный конвейер автопилота.
func RegisterDefaults(reg *step.Registry, deps Deps) {
	reg.Register(NewCoordinateStep(deps))
	reg.Register(NewPlannerStep(deps))
	reg.Register(NewWorkflowStep(deps))
	reg.Register(NewCommitterStep(deps))
	reg.Register(NewResolveStep(deps))
	reg.Register(NewPushStep(deps))
}

// newActionID выдаёт идентификатор для нового действия.
func newActionID() string {
	return uuid.NewString()
}

// openSpan открывает дочерний span обработки pending-действия.
func openSpan(ctx context.Context, st store.Store, pending domain.PendingAction, stepName, summary string, meta map[string]any) (*domain.Span, error) {
	span := &domain.Span{
		ID:        uuid.NewString(),
		TraceID:   pending.TraceID,
		ActionID:  pending.ActionID,
		Step:      stepName,
		Parent:    pending.SpanID,
		Timestamp: time.Now().UTC(),
		Summary:   summary,
		Meta:      meta,
	}
	if err := st.AddSpan(ctx, span); err != nil {
		return nil, fmt.Errorf("open %s span: %w", stepName, err)
	}
	return span, nil
}

// enqueueSpec — параметры постановки нового действия в очередь.
type enqueueSpec struct {
	ActionID  string
	TraceID   string
	SpanID    string
	Action    string
	Summary   string
	Reasoning string
	Meta      map[string]any
}

// enqueueAction пишет пару Action + PendingAction. Обе записи
// идемпотентны по id, поэтому повтор после сбоя безопасен.
func enqueueAction(ctx context.Context, st store.Store, spec enqueueSpec) error {
	now := time.Now().UTC()
	err := st.AddAction(ctx, &domain.Action{
		ID:        spec.ActionID,
		TraceID:   spec.TraceID,
		Action:    spec.Action,
		SpanID:    spec.SpanID,
		Timestamp: now,
		Meta:      spec.Meta,
		Reasoning: spec.Reasoning,
	})
	if err != nil {
		return fmt.Errorf("add %s action: %w", spec.Action, err)
	}
	err = st.AddPending(ctx, &domain.PendingAction{
		ActionID:  spec.ActionID,
		TraceID:   spec.TraceID,
		SpanID:    spec.SpanID,
		Action:    spec.Action,
		Summary:   spec.Summary,
		CreatedAt: now,
		Meta:      spec.Meta,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s action: %w", spec.Action, err)
	}
	return nil
}

// spanChainText печатает причинную цепочку span'ов от корня к листу —
// контекст для reasoning-промптов.
func spanChainText(chain []domain.Span) string {
	var b strings.Builder
	for i, s := range chain {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, s.Step, s.Summary)
		if s.IsCompleted() {
			fmt.Fprintf(&b, " (%s", s.Status)
			if s.ResultSummary != "" {
				fmt.Fprintf(&b, ": %s", s.ResultSummary)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
