package steps

import (
	"context"
	"errors"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/gitops"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

// PushStep — отправка влитых изменений, конец каждого flow.
//
// Шаг попадает в очередь только когда был коммит и включён auto-push;
// в остальных случаях resolve закрывает push-действие, не ставя его в
// очередь. Отправляется текущая ветка рабочей копии (после merge-back
// работа уже в ней). Неудача push фиксируется как failed-итог без
// ретрая.
type PushStep struct {
	store       store.Store
	git         gitops.Git
	workspace   string
	remote      string
	maxParallel int
}

// NewPushStep создаёт шаг отправки.
func NewPushStep(deps Deps) *PushStep {
	remote := deps.Remote
	if remote == "" {
		remote = "origin"
	}
	return &PushStep{
		store:       deps.Store,
		git:         deps.Git,
		workspace:   deps.Workspace,
		remote:      remote,
		maxParallel: deps.maxFor(domain.ActionPush, defaultPushParallel),
	}
}

func (s *PushStep) Config() step.Config {
	return step.Config{
		ActionType:  domain.ActionPush,
		MaxParallel: s.maxParallel,
	}
}

func (s *PushStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	span, err := openSpan(ctx, s.store, pending, "push", pending.Summary, nil)
	if err != nil {
		return step.Result{}, err
	}

	// Запасной выход: запись без коммита в очереди появляться не
	// должна, но если появилась — это no-op, не ошибка.
	if !pending.MetaBool("committed") {
		if err := s.store.CompleteSpan(ctx, span.ID, domain.StepStatusCompleted, "push skipped", nil); err != nil {
			return step.Result{}, err
		}
		return step.Result{
			SpanID:    span.ID,
			Terminal:  true,
			Reasoning: "nothing to push",
		}, nil
	}

	branch, err := s.git.CurrentBranch(ctx, s.workspace)
	if err != nil {
		return s.failPush(ctx, span.ID, err, sc)
	}
	if err := s.git.Push(ctx, s.workspace, s.remote, branch); err != nil {
		return s.failPush(ctx, span.ID, err, sc)
	}

	if err := s.store.CompleteSpan(ctx, span.ID, domain.StepStatusCompleted, "pushed "+branch, map[string]any{
		"remote": s.remote,
		"branch": branch,
	}); err != nil {
		return step.Result{}, err
	}
	sc.Logger.Info("branch pushed", "remote", s.remote, "branch", branch)
	return step.Result{
		SpanID:    span.ID,
		Terminal:  true,
		Reasoning: "pushed " + branch,
	}, nil
}

// failPush фиксирует неудачу отправки терминальным failed-итогом.
func (s *PushStep) failPush(ctx context.Context, spanID string, cause error, sc step.Context) (step.Result, error) {
	sc.Logger.Error("push failed", "error", cause)

	meta := map[string]any{}
	var cmdErr *gitops.CommandError
	if errors.As(cause, &cmdErr) {
		meta["commandError"] = cmdErr.Meta()
	}
	if err := s.store.CompleteSpan(ctx, spanID, domain.StepStatusFailed, cause.Error(), meta); err != nil {
		sc.Logger.Warn("failed to finalize push span", "span_id", spanID, "error", err)
	}
	return step.Result{
		SpanID:    spanID,
		Terminal:  true,
		Status:    domain.StepStatusFailed,
		Reasoning: cause.Error(),
	}, nil
}
