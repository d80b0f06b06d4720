package steps

import (
	"context"
	"errors"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/gitops"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

// ResolveStep — терминальная бухгалтерия одного workflow-результата.
//
// Фиксирует итог (закоммичено или нет, почему), при настроенном
// merge-back вливает ветку задачи в рабочую копию и всегда ставит
// ровно одно продолжение "push". Когда отправлять нечего (нет коммита
// или auto-push выключен), push-действие записывается в журнал, но в
// очередь не попадает: шаг сам закрывает его TraceMutations в том же
// результате.
type ResolveStep struct {
	store       store.Store
	git         gitops.Git
	workspace   string
	autoPush    bool
	mergeBack   bool
	maxParallel int
}

// NewResolveStep создаёт шаг резолва.
func NewResolveStep(deps Deps) *ResolveStep {
	return &ResolveStep{
		store:       deps.Store,
		git:         deps.Git,
		workspace:   deps.Workspace,
		autoPush:    deps.AutoPush,
		mergeBack:   deps.MergeBack,
		maxParallel: deps.maxFor(domain.ActionResolve, defaultResolveParallel),
	}
}

func (s *ResolveStep) Config() step.Config {
	return step.Config{
		ActionType:  domain.ActionResolve,
		MaxParallel: s.maxParallel,
	}
}

func (s *ResolveStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	committed := pending.MetaBool("committed")

	span, err := openSpan(ctx, s.store, pending, "resolve", pending.Summary, nil)
	if err != nil {
		return step.Result{}, err
	}

	spanMeta := map[string]any{
		"committed": committed,
	}
	if ts := pending.MetaString("task_status"); ts != "" {
		spanMeta["taskStatus"] = ts
	}

	note := "resolved: nothing was committed"
	branch := ""
	if committed {
		note = "resolved: changes committed"
		branch = s.mergeBranchBack(ctx, pending, spanMeta, sc)
	}

	if err := s.store.CompleteSpan(ctx, span.ID, domain.StepStatusCompleted, note, spanMeta); err != nil {
		return step.Result{}, err
	}

	// Ровно одно продолжение push — даже когда отправлять нечего.
	pushID := newActionID()
	willPush := committed && s.autoPush
	skipReason := ""
	switch {
	case !committed:
		skipReason = "push skipped: nothing to push"
	case !s.autoPush:
		skipReason = "push skipped: auto-push disabled"
	}

	pushMeta := map[string]any{
		"committed": committed,
	}
	if hash := pending.MetaString("commit_hash"); hash != "" {
		pushMeta["commit_hash"] = hash
	}
	if branch != "" {
		pushMeta["branch"] = branch
	}

	if willPush {
		err := enqueueAction(ctx, s.store, enqueueSpec{
			ActionID: pushID,
			TraceID:  pending.TraceID,
			SpanID:   span.ID,
			Action:   domain.ActionPush,
			Summary:  "push changes",
			Meta:     pushMeta,
		})
		if err != nil {
			return step.Result{}, err
		}
		return step.Result{
			SpanID:    span.ID,
			Reasoning: note,
			EnqueuedActions: []step.EnqueuedAction{
				{ActionID: pushID, Action: domain.ActionPush, Summary: "push changes"},
			},
		}, nil
	}

	// Push не нужен: действие уходит в журнал, минуя очередь, и сразу
	// же закрывается мутацией в этом же результате.
	err = s.store.AddAction(ctx, &domain.Action{
		ID:        pushID,
		TraceID:   pending.TraceID,
		Action:    domain.ActionPush,
		SpanID:    span.ID,
		Timestamp: time.Now().UTC(),
		Meta:      pushMeta,
		Reasoning: skipReason,
	})
	if err != nil {
		return step.Result{}, err
	}
	return step.Result{
		SpanID:    span.ID,
		Terminal:  true,
		Reasoning: note,
		EnqueuedActions: []step.EnqueuedAction{
			{ActionID: pushID, Action: domain.ActionPush, Summary: "push skipped"},
		},
		TraceMutations: &step.TraceMutations{
			StepUpdates: []step.StepUpdate{
				{ActionID: pushID, Status: domain.StepStatusCompleted, Reasoning: skipReason},
			},
		},
	}, nil
}

// mergeBranchBack вливает ветку задачи в рабочую копию, если это
// настроено. Неудача записывается в meta span'а, но не роняет шаг.
// Возвращает имя ветки задачи, если оно известно.
func (s *ResolveStep) mergeBranchBack(ctx context.Context, pending domain.PendingAction, spanMeta map[string]any, sc step.Context) string {
	sourceID := pending.MetaString(domain.MetaSourceActionID)
	if sourceID == "" {
		return ""
	}
	mapping, err := s.store.GetTaskMapping(ctx, sourceID)
	if err != nil || mapping.BranchName == "" {
		return ""
	}

	if !s.mergeBack {
		return mapping.BranchName
	}
	if err := s.git.Merge(ctx, s.workspace, mapping.BranchName); err != nil {
		sc.Logger.Warn("merge-back failed", "branch", mapping.BranchName, "error", err)
		var cmdErr *gitops.CommandError
		if errors.As(err, &cmdErr) {
			spanMeta["commandError"] = cmdErr.Meta()
		}
		spanMeta["merged"] = false
		return mapping.BranchName
	}
	spanMeta["merged"] = true
	sc.Logger.Info("task branch merged back", "branch", mapping.BranchName)
	return mapping.BranchName
}
