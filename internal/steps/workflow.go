package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/project"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

// WorkflowStep — запуск запланированной задачи во внешнем инструменте.
//
// Первый вызов ждёт зависимость (если задана), запускает задачу и
// сохраняет TaskMapping; дальше шаг отвечает "pending" — задача живёт
// вне движка. За завершением следит Monitor: он замечает терминальный
// статус задачи, ставит в очередь commit и переключает статус шага
// через TraceMutations.
type WorkflowStep struct {
	store       store.Store
	project     project.Project
	launcher    project.Launcher
	maxParallel int
}

// NewWorkflowStep создаёт шаг запуска задач.
func NewWorkflowStep(deps Deps) *WorkflowStep {
	return &WorkflowStep{
		store:       deps.Store,
		project:     deps.Project,
		launcher:    deps.Launcher,
		maxParallel: deps.maxFor(domain.ActionWorkflow, defaultWorkflowParallel),
	}
}

func (s *WorkflowStep) Config() step.Config {
	return step.Config{
		ActionType:  domain.ActionWorkflow,
		MaxParallel: s.maxParallel,
	}
}

func (s *WorkflowStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	// Повторный вызов после запуска: задача ещё работает.
	if _, err := s.store.GetTaskMapping(ctx, pending.ActionID); err == nil {
		return step.Result{
			Status:    domain.StepStatusPending,
			Reasoning: "task in progress",
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return step.Result{}, fmt.Errorf("lookup task mapping: %w", err)
	}

	if dep := pending.MetaString(domain.MetaDependsOnActionID); dep != "" {
		state := s.dependencyState(ctx, dep)
		switch {
		case state.failed:
			return step.Result{
				Status:    domain.StepStatusFailed,
				Reasoning: state.reason,
			}, nil
		case !state.ready:
			return step.Result{
				Status:    domain.StepStatusPending,
				Reasoning: state.reason,
			}, nil
		}
	}

	task, err := s.launcher.Launch(ctx, project.TaskSpec{
		Title:       pending.Summary,
		Description: pending.MetaString("description"),
		Workflow:    pending.MetaString("workflow"),
	})
	if err != nil {
		return step.Result{}, fmt.Errorf("launch task: %w", err)
	}

	err = s.store.PutTaskMapping(ctx, &domain.TaskMapping{
		ActionID:   pending.ActionID,
		TaskID:     task.ID,
		BranchName: task.BranchName,
	})
	if err != nil {
		return step.Result{}, fmt.Errorf("save task mapping: %w", err)
	}

	span, err := openSpan(ctx, s.store, pending, "workflow", "task started: "+pending.Summary, map[string]any{
		"task_id": task.ID,
		"branch":  task.BranchName,
	})
	if err != nil {
		return step.Result{}, err
	}

	sc.Logger.Info("task launched", "task_id", task.ID, "branch", task.BranchName)
	return step.Result{
		SpanID:    span.ID,
		Status:    domain.StepStatusPending,
		Reasoning: "task running",
	}, nil
}

type depState struct {
	ready  bool
	failed bool
	reason string
}

// dependencyState оценивает готовность задачи, от которой зависит
// текущая.
func (s *WorkflowStep) dependencyState(ctx context.Context, depActionID string) depState {
	mapping, err := s.store.GetTaskMapping(ctx, depActionID)
	if err != nil {
		return depState{reason: "waiting for dependency to start"}
	}
	task, err := s.project.GetTask(ctx, mapping.TaskID)
	if err != nil {
		return depState{reason: "waiting for dependency task state"}
	}
	switch task.Status {
	case project.TaskStatusCompleted:
		return depState{ready: true}
	case project.TaskStatusFailed:
		reason := "dependency task failed"
		if task.Error != "" {
			reason = "dependency task failed: " + task.Error
		}
		return depState{failed: true, reason: reason}
	default:
		return depState{reason: fmt.Sprintf("waiting for dependency task (%s)", task.Status)}
	}
}

// Monitor сверяет очередь workflow-действий с внешним состоянием задач.
//
// Для каждой запущенной задачи с терминальным статусом: закрывает
// dispatch-span, ставит в очередь commit (идемпотентно: уже записанный
// commit-Action переиспользуется), снимает workflow-запись с очереди и
// возвращает мутацию статуса шага.
func (s *WorkflowStep) Monitor(ctx context.Context, mc step.MonitorContext) (*step.TraceMutations, error) {
	pendingList, err := s.store.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending queue: %w", err)
	}

	var muts step.TraceMutations
	for _, entry := range pendingList {
		if entry.Action != domain.ActionWorkflow {
			continue
		}
		mapping, err := s.store.GetTaskMapping(ctx, entry.ActionID)
		if errors.Is(err, store.ErrNotFound) {
			continue // ещё не запускалась
		}
		if err != nil {
			mc.Logger.Warn("task mapping lookup failed", "action_id", entry.ActionID, "error", err)
			continue
		}
		task, err := s.project.GetTask(ctx, mapping.TaskID)
		if err != nil {
			mc.Logger.Warn("task state unavailable", "task_id", mapping.TaskID, "error", err)
			continue
		}
		if !task.Status.IsTerminal() {
			continue
		}

		update, err := s.reconcile(ctx, entry, task, mc)
		if err != nil {
			mc.Logger.Error("task reconciliation failed", "action_id", entry.ActionID, "error", err)
			continue
		}
		muts.StepUpdates = append(muts.StepUpdates, update)
	}

	if len(muts.StepUpdates) == 0 {
		return nil, nil
	}
	return &muts, nil
}

// reconcile переводит завершившуюся задачу в фазу коммита.
func (s *WorkflowStep) reconcile(ctx context.Context, entry domain.PendingAction, task *project.Task, mc step.MonitorContext) (step.StepUpdate, error) {
	dispatchSpanID := s.closeDispatchSpan(ctx, entry, task, mc)

	// Идемпотентность после сбоя: commit для этого источника мог быть
	// записан в прошлый проход.
	commitID, err := s.findCommitAction(ctx, entry.TraceID, entry.ActionID)
	if err != nil {
		return step.StepUpdate{}, err
	}
	if commitID == "" {
		commitID = newActionID()
		err := enqueueAction(ctx, s.store, enqueueSpec{
			ActionID: commitID,
			TraceID:  entry.TraceID,
			SpanID:   dispatchSpanID,
			Action:   domain.ActionCommit,
			Summary:  "commit results: " + task.Title,
			Meta: map[string]any{
				domain.MetaSourceActionID: entry.ActionID,
			},
		})
		if err != nil {
			return step.StepUpdate{}, err
		}
	}

	if err := s.store.RemovePending(ctx, entry.ActionID); err != nil {
		return step.StepUpdate{}, fmt.Errorf("remove workflow entry: %w", err)
	}

	status := domain.StepStatusCompleted
	reasoning := "task completed"
	if task.Status == project.TaskStatusFailed {
		status = domain.StepStatusFailed
		reasoning = "task failed"
		if task.Error != "" {
			reasoning = "task failed: " + task.Error
		}
	}
	mc.Logger.Info("task finished, commit enqueued",
		"task_id", task.ID, "status", task.Status, "commit_action_id", commitID)

	return step.StepUpdate{
		TraceID:   entry.TraceID,
		ActionID:  entry.ActionID,
		Status:    status,
		Reasoning: reasoning,
	}, nil
}

// closeDispatchSpan завершает span запуска задачи и возвращает его id
// (или span-источник записи, если dispatch-span не найден).
func (s *WorkflowStep) closeDispatchSpan(ctx context.Context, entry domain.PendingAction, task *project.Task, mc step.MonitorContext) string {
	spanID := entry.SpanID
	spans, err := s.store.ListSpansByTrace(ctx, entry.TraceID)
	if err != nil {
		mc.Logger.Warn("spans unavailable for dispatch close", "trace_id", entry.TraceID, "error", err)
		return spanID
	}
	for _, sp := range spans {
		if sp.ActionID != entry.ActionID || sp.Step != "workflow" {
			continue
		}
		spanID = sp.ID
		if sp.IsCompleted() {
			break
		}
		status := domain.StepStatusCompleted
		summary := "task completed"
		if task.Status == project.TaskStatusFailed {
			status = domain.StepStatusFailed
			summary = "task failed"
			if task.Error != "" {
				summary = "task failed: " + task.Error
			}
		}
		err := s.store.CompleteSpan(ctx, sp.ID, status, summary, map[string]any{
			"taskStatus": string(task.Status),
		})
		if err != nil {
			mc.Logger.Warn("dispatch span completion failed", "span_id", sp.ID, "error", err)
		}
		break
	}
	return spanID
}

// findCommitAction ищет уже записанный commit-Action для источника.
func (s *WorkflowStep) findCommitAction(ctx context.Context, traceID, sourceActionID string) (string, error) {
	actions, err := s.store.ListActionsByTrace(ctx, traceID)
	if err != nil {
		return "", fmt.Errorf("list trace actions: %w", err)
	}
	for _, a := range actions {
		if a.Action != domain.ActionCommit || a.Meta == nil {
			continue
		}
		if src, ok := a.Meta[domain.MetaSourceActionID].(string); ok && src == sourceActionID {
			return a.ID, nil
		}
	}
	return "", nil
}
