package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/endorhq/rover-sub001/internal/agent"
	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/gitops"
	"github.com/endorhq/rover-sub001/internal/project"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

const commitMessagePrompt = "Write a git commit message for the work described " +
	"below. First line: imperative summary under 72 characters. Optionally a " +
	"blank line and a short body. Return the message only, no quotes, no markdown."

// commitOutcome — итог попытки коммита, из которого собираются span и
// payload для resolve.
type commitOutcome struct {
	Committed  bool
	CommitHash string
	TaskStatus project.TaskStatus
	TaskError  string
	CmdErr     *gitops.CommandError
	Note       string
}

// CommitterStep — фиксация результата завершившейся задачи.
//
// Два входа: задача провалилась — неудача пересылается дальше, а не
// глотается; задача успешна — рабочая копия проверяется на изменения,
// сообщение коммита генерируется из итераций и истории, изменения
// коммитятся. Любая неудача git-операции сворачивается в CommandError
// и уезжает данными в span и payload — шаг никогда не бросает её
// наверх и всегда ставит ровно один resolve. Flow не застревает.
type CommitterStep struct {
	store       store.Store
	project     project.Project
	git         gitops.Git
	invoker     agent.Invoker
	attribution string
	maxParallel int
}

// NewCommitterStep создаёт шаг коммита.
func NewCommitterStep(deps Deps) *CommitterStep {
	return &CommitterStep{
		store:       deps.Store,
		project:     deps.Project,
		git:         deps.Git,
		invoker:     deps.Invoker,
		attribution: deps.Attribution,
		maxParallel: deps.maxFor(domain.ActionCommit, defaultCommitParallel),
	}
}

func (s *CommitterStep) Config() step.Config {
	return step.Config{
		ActionType:  domain.ActionCommit,
		MaxParallel: s.maxParallel,
	}
}

func (s *CommitterStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	sourceID := pending.MetaString(domain.MetaSourceActionID)

	// Возобновление после сбоя: resolve для этого источника уже мог
	// быть записан — переиспользуем его вместо повторного коммита.
	if existing, err := s.findResolveAction(ctx, pending.TraceID, sourceID); err == nil && existing != nil {
		return s.resumeExisting(ctx, pending, existing)
	}

	task, lookupErr := s.lookupTask(ctx, sourceID)

	summary := "commit results"
	if task != nil {
		summary = "commit results: " + task.Title
	}
	span, err := openSpan(ctx, s.store, pending, "commit", summary, nil)
	if err != nil {
		return step.Result{}, err
	}

	var outcome commitOutcome
	switch {
	case lookupErr != nil:
		// Деградация: без задачи коммитить нечего, но flow едет дальше.
		outcome = commitOutcome{
			TaskStatus: project.TaskStatusFailed,
			TaskError:  lookupErr.Error(),
			Note:       "task lookup failed: " + lookupErr.Error(),
		}
		sc.Logger.Error("committer cannot resolve task", "source_action_id", sourceID, "error", lookupErr)
	case task.Status == project.TaskStatusFailed:
		outcome = commitOutcome{
			TaskStatus: project.TaskStatusFailed,
			TaskError:  task.Error,
			Note:       "upstream task failed, forwarding failure",
		}
	default:
		outcome = s.commitChanges(ctx, task, sc)
		outcome.TaskStatus = task.Status
	}

	s.finalizeSpan(ctx, span.ID, outcome, sc)

	resolveID := newActionID()
	resolveSummary := "resolve: " + pending.Summary
	if task != nil {
		resolveSummary = "resolve: " + task.Title
	}
	err = enqueueAction(ctx, s.store, enqueueSpec{
		ActionID: resolveID,
		TraceID:  pending.TraceID,
		SpanID:   span.ID,
		Action:   domain.ActionResolve,
		Summary:  resolveSummary,
		Meta:     s.resolvePayload(sourceID, outcome),
	})
	if err != nil {
		return step.Result{}, err
	}

	return step.Result{
		SpanID:    span.ID,
		Reasoning: outcome.Note,
		EnqueuedActions: []step.EnqueuedAction{
			{ActionID: resolveID, Action: domain.ActionResolve, Summary: resolveSummary},
		},
	}, nil
}

// lookupTask находит задачу по sourceActionId через TaskMapping.
func (s *CommitterStep) lookupTask(ctx context.Context, sourceID string) (*project.Task, error) {
	if sourceID == "" {
		return nil, errors.New("commit entry carries no source action id")
	}
	mapping, err := s.store.GetTaskMapping(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("task mapping for %s: %w", sourceID, err)
	}
	task, err := s.project.GetTask(ctx, mapping.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", mapping.TaskID, err)
	}
	if task.BranchName == "" {
		task.BranchName = mapping.BranchName
	}
	return task, nil
}

// commitChanges выполняет успешную ветку: проверка изменений,
// генерация сообщения, stage + commit. Ошибки git не пробрасываются.
func (s *CommitterStep) commitChanges(ctx context.Context, task *project.Task, sc step.Context) commitOutcome {
	changed, err := s.git.HasChanges(ctx, task.WorktreePath)
	if err != nil {
		return s.degrade("inspect worktree", err, sc)
	}
	if !changed {
		return commitOutcome{Note: "no changes to commit"}
	}

	message := s.commitMessage(ctx, task, sc)
	if s.attribution != "" {
		message = message + "\n\n" + s.attribution
	}

	if err := s.git.StageAll(ctx, task.WorktreePath); err != nil {
		return s.degrade("stage changes", err, sc)
	}
	hash, err := s.git.Commit(ctx, task.WorktreePath, message)
	if err != nil {
		return s.degrade("commit changes", err, sc)
	}

	return commitOutcome{
		Committed:  true,
		CommitHash: hash,
		Note:       "committed " + shortHash(hash),
	}
}

// degrade сворачивает ошибку git-операции в данные.
func (s *CommitterStep) degrade(op string, err error, sc step.Context) commitOutcome {
	sc.Logger.Warn("commit operation failed, degrading", "op", op, "error", err)
	var cmdErr *gitops.CommandError
	if !errors.As(err, &cmdErr) {
		cmdErr = &gitops.CommandError{Message: op + " failed: " + err.Error(), ExitCode: -1}
	}
	return commitOutcome{
		CmdErr: cmdErr,
		Note:   op + " failed: " + cmdErr.Message,
	}
}

// commitMessage генерирует сообщение коммита из итогов итераций и
// недавней истории; при любой неудаче — заголовок задачи.
func (s *CommitterStep) commitMessage(ctx context.Context, task *project.Task, sc step.Context) string {
	var prompt strings.Builder
	prompt.WriteString("Task: ")
	prompt.WriteString(task.Title)
	prompt.WriteString("\n")
	if task.Description != "" {
		prompt.WriteString("Description: ")
		prompt.WriteString(task.Description)
		prompt.WriteString("\n")
	}
	if summaries := project.ReadIterationSummaries(task.IterationsPath()); len(summaries) > 0 {
		prompt.WriteString("\nIteration notes:\n")
		for _, sum := range summaries {
			prompt.WriteString("- ")
			prompt.WriteString(sum)
			prompt.WriteString("\n")
		}
	}
	if history, err := s.git.RecentLog(ctx, task.WorktreePath, 5); err == nil && len(history) > 0 {
		prompt.WriteString("\nRecent commits:\n")
		for _, line := range history {
			prompt.WriteString(line)
			prompt.WriteString("\n")
		}
	}

	message, err := s.invoker.Invoke(ctx, prompt.String(), agent.InvokeOptions{
		SystemPrompt: commitMessagePrompt,
		CWD:          task.WorktreePath,
	})
	if err != nil || strings.TrimSpace(message) == "" {
		if err != nil {
			sc.Logger.Warn("commit message generation failed, using task title", "error", err)
		}
		return task.Title
	}
	return strings.TrimSpace(message)
}

// finalizeSpan записывает завершение commit-span согласно итогу.
func (s *CommitterStep) finalizeSpan(ctx context.Context, spanID string, outcome commitOutcome, sc step.Context) {
	meta := map[string]any{
		"committed": outcome.Committed,
	}
	if outcome.CommitHash != "" {
		meta["commitHash"] = outcome.CommitHash
	}
	if outcome.TaskStatus != "" {
		meta["taskStatus"] = string(outcome.TaskStatus)
	}
	if outcome.CmdErr != nil {
		meta["commandError"] = outcome.CmdErr.Meta()
	}

	status := domain.StepStatusCompleted
	summary := outcome.Note
	if outcome.TaskStatus == project.TaskStatusFailed {
		status = domain.StepStatusFailed
		summary = outcome.TaskError
		if summary == "" {
			summary = "task failed"
		}
	} else if outcome.CmdErr != nil {
		status = domain.StepStatusFailed
	}

	if err := s.store.CompleteSpan(ctx, spanID, status, summary, meta); err != nil {
		sc.Logger.Warn("failed to finalize commit span", "span_id", spanID, "error", err)
	}
}

// resolvePayload — meta для resolve-действия.
func (s *CommitterStep) resolvePayload(sourceID string, outcome commitOutcome) map[string]any {
	meta := map[string]any{
		"committed":               outcome.Committed,
		domain.MetaSourceActionID: sourceID,
	}
	if outcome.CommitHash != "" {
		meta["commit_hash"] = outcome.CommitHash
	}
	if outcome.TaskStatus != "" {
		meta["task_status"] = string(outcome.TaskStatus)
	}
	if outcome.TaskError != "" {
		meta["task_error"] = outcome.TaskError
	}
	if outcome.CmdErr != nil {
		meta["command_error"] = outcome.CmdErr.Meta()
	}
	return meta
}

// findResolveAction ищет уже записанный resolve для источника.
func (s *CommitterStep) findResolveAction(ctx context.Context, traceID, sourceID string) (*domain.Action, error) {
	if sourceID == "" {
		return nil, nil
	}
	actions, err := s.store.ListActionsByTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		if a.Action != domain.ActionResolve || a.Meta == nil {
			continue
		}
		if src, ok := a.Meta[domain.MetaSourceActionID].(string); ok && src == sourceID {
			return &a, nil
		}
	}
	return nil, nil
}

// resumeExisting доводит до конца прерванную попытку: resolve уже
// записан, осталось убедиться, что он в очереди.
func (s *CommitterStep) resumeExisting(ctx context.Context, pending domain.PendingAction, existing *domain.Action) (step.Result, error) {
	err := s.store.AddPending(ctx, &domain.PendingAction{
		ActionID:  existing.ID,
		TraceID:   existing.TraceID,
		SpanID:    existing.SpanID,
		Action:    domain.ActionResolve,
		Summary:   "resolve: " + pending.Summary,
		CreatedAt: existing.Timestamp,
		Meta:      existing.Meta,
	})
	if err != nil {
		return step.Result{}, fmt.Errorf("re-enqueue resolve: %w", err)
	}
	return step.Result{
		SpanID:    existing.SpanID,
		Reasoning: "commit already processed, resuming",
		EnqueuedActions: []step.EnqueuedAction{
			{ActionID: existing.ID, Action: domain.ActionResolve, Summary: "resolve: " + pending.Summary},
		},
	}, nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
