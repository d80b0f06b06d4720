package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/endorhq/rover-sub001/internal/agent"
	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/engine"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

var (
	// ErrEmptyPlan — планировщик вернул план без задач.
	ErrEmptyPlan = errors.New("planner returned no tasks")

	// ErrUnknownWorkflow — задача плана ссылается на workflow вне
	// allow-list конфигурации.
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

const plannerSystemPrompt = "You are the autopilot planner. Break the directive " +
	"into independent engineering tasks for this repository. Return JSON only, " +
	"no markdown. Schema: {\"analysis\":\"...\",\"tasks\":[{\"title\":\"...\"," +
	"\"description\":\"...\",\"workflow\":\"...\",\"acceptance_criteria\":[\"...\"]," +
	"\"context\":{\"depends_on\":\"<title of another task or omit>\"}}]," +
	"\"execution_order\":[\"...\"],\"reasoning\":\"...\"}. " +
	"Rules: task titles must be unique; depends_on references another task by its " +
	"exact title; only use workflows from the allowed list given in the message; " +
	"prefer small independent tasks over one monolithic task."

// plannerResponse — разобранный план.
type plannerResponse struct {
	Analysis       string        `json:"analysis"`
	Tasks          []plannerTask `json:"tasks"`
	ExecutionOrder []string      `json:"execution_order"`
	Reasoning      string        `json:"reasoning"`
}

type plannerTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Workflow           string   `json:"workflow"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Context            struct {
		DependsOn string `json:"depends_on"`
	} `json:"context"`
}

// PlannerStep — разворачивание директивы в fan-out задач.
//
// Планировщик строит промпт из директивы и причинной цепочки span'ов,
// зовёт агента с read-only инструментами и разбирает строгий JSON.
// Ошибки вызова и разбора фатальны для попытки: оркестратор пометит
// шаг failed и снимет его с очереди без ретрая.
//
// Разрешение зависимостей двухпроходное: задача может ссылаться на
// заголовок другой задачи, чей actionId ещё не существует. Первый
// проход раздаёт id всем задачам, второй резолвит ссылки и пишет
// записи.
type PlannerStep struct {
	store       store.Store
	invoker     agent.Invoker
	workspace   string
	workflows   []string
	maxParallel int
}

// NewPlannerStep создаёт шаг планирования.
func NewPlannerStep(deps Deps) *PlannerStep {
	return &PlannerStep{
		store:       deps.Store,
		invoker:     deps.Invoker,
		workspace:   deps.Workspace,
		workflows:   deps.Workflows,
		maxParallel: deps.maxFor(domain.ActionPlan, defaultPlanParallel),
	}
}

func (s *PlannerStep) Config() step.Config {
	return step.Config{
		ActionType:  domain.ActionPlan,
		MaxParallel: s.maxParallel,
	}
}

func (s *PlannerStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	directive := pending.MetaString("directive")
	if directive == "" {
		directive = pending.Summary
	}

	span, err := openSpan(ctx, s.store, pending, "plan", "planning: "+directive, nil)
	if err != nil {
		return step.Result{}, err
	}

	plan, err := s.buildPlan(ctx, pending, directive)
	if err != nil {
		s.failSpan(ctx, span.ID, err, sc)
		return step.Result{}, err
	}

	// Проход 1: каждой задаче — свой actionId, заголовок → id.
	ids := make(map[string]string, len(plan.Tasks))
	actionIDs := make([]string, len(plan.Tasks))
	for i, task := range plan.Tasks {
		id := newActionID()
		actionIDs[i] = id
		ids[task.Title] = id
	}

	// Проход 2: резолвим depends_on и пишем Action + PendingAction.
	enqueued := make([]step.EnqueuedAction, 0, len(plan.Tasks))
	for i, task := range plan.Tasks {
		meta := map[string]any{
			"title":    task.Title,
			"workflow": task.Workflow,
		}
		if task.Description != "" {
			meta["description"] = task.Description
		}
		if len(task.AcceptanceCriteria) > 0 {
			meta["acceptance_criteria"] = task.AcceptanceCriteria
		}
		if dep := task.Context.DependsOn; dep != "" {
			if depID, ok := ids[dep]; ok {
				meta[domain.MetaDependsOnActionID] = depID
			} else {
				sc.Logger.Warn("plan task depends on unknown title",
					"task", task.Title, "depends_on", dep)
			}
		}

		err := enqueueAction(ctx, s.store, enqueueSpec{
			ActionID: actionIDs[i],
			TraceID:  pending.TraceID,
			SpanID:   span.ID,
			Action:   domain.ActionWorkflow,
			Summary:  task.Title,
			Meta:     meta,
		})
		if err != nil {
			s.failSpan(ctx, span.ID, err, sc)
			return step.Result{}, err
		}
		enqueued = append(enqueued, step.EnqueuedAction{
			ActionID: actionIDs[i],
			Action:   domain.ActionWorkflow,
			Summary:  task.Title,
		})
	}

	err = s.store.CompleteSpan(ctx, span.ID, domain.StepStatusCompleted,
		fmt.Sprintf("planned %d tasks", len(plan.Tasks)),
		map[string]any{
			"analysis":       plan.Analysis,
			"taskCount":      len(plan.Tasks),
			"executionOrder": plan.ExecutionOrder,
		})
	if err != nil {
		return step.Result{}, err
	}

	reasoning := plan.Reasoning
	if reasoning == "" {
		reasoning = plan.Analysis
	}
	return step.Result{
		SpanID:          span.ID,
		Reasoning:       reasoning,
		EnqueuedActions: enqueued,
	}, nil
}

// buildPlan зовёт агента и валидирует ответ.
func (s *PlannerStep) buildPlan(ctx context.Context, pending domain.PendingAction, directive string) (*plannerResponse, error) {
	chain, err := s.store.GetSpanTrace(ctx, pending.SpanID)
	if err != nil {
		return nil, fmt.Errorf("reconstruct span chain: %w", err)
	}

	var prompt strings.Builder
	prompt.WriteString("Directive:\n")
	prompt.WriteString(directive)
	prompt.WriteString("\n\nAllowed workflows: ")
	prompt.WriteString(strings.Join(s.workflows, ", "))
	prompt.WriteString("\n")
	if len(chain) > 0 {
		prompt.WriteString("\nCausal history (root first):\n")
		prompt.WriteString(spanChainText(chain))
	}

	raw, err := s.invoker.Invoke(ctx, prompt.String(), agent.InvokeOptions{
		SystemPrompt: plannerSystemPrompt,
		CWD:          s.workspace,
		Tools:        readOnlyTools,
		JSON:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("planner invoke: %w", err)
	}

	var plan plannerResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &plan); err != nil {
		return nil, fmt.Errorf("parse planner response: %w", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, ErrEmptyPlan
	}
	refs := make([]engine.TaskRef, len(plan.Tasks))
	for i, task := range plan.Tasks {
		if strings.TrimSpace(task.Title) == "" {
			return nil, fmt.Errorf("planner task has empty title")
		}
		if !s.workflowAllowed(task.Workflow) {
			return nil, fmt.Errorf("task %q: %w %q", task.Title, ErrUnknownWorkflow, task.Workflow)
		}
		refs[i] = engine.TaskRef{Title: task.Title, DependsOn: task.Context.DependsOn}
	}

	// Цикл в зависимостях заблокировал бы flow навсегда: все задачи
	// цикла ждали бы друг друга в очереди.
	graph, err := engine.Build(refs)
	if err != nil {
		return nil, fmt.Errorf("validate plan dependencies: %w", err)
	}
	if len(plan.ExecutionOrder) == 0 {
		plan.ExecutionOrder = graph.Titles()
	}
	return &plan, nil
}

func (s *PlannerStep) workflowAllowed(workflow string) bool {
	for _, w := range s.workflows {
		if w == workflow {
			return true
		}
	}
	return false
}

func (s *PlannerStep) failSpan(ctx context.Context, spanID string, cause error, sc step.Context) {
	if err := s.store.CompleteSpan(ctx, spanID, domain.StepStatusFailed, cause.Error(), nil); err != nil {
		sc.Logger.Warn("failed to finalize plan span", "span_id", spanID, "error", err)
	}
}
