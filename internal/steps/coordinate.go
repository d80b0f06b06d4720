package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/endorhq/rover-sub001/internal/agent"
	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

const coordinateSystemPrompt = "You are the autopilot triage assistant. " +
	"Given an incoming repository event and its causal history, decide whether " +
	"the autopilot should act on it. Return JSON only, no markdown. " +
	`Schema: {"decision":"plan|ignore","directive":"...","reasoning":"..."}. ` +
	"Use decision \"plan\" when the event describes actionable work for the " +
	"repository and phrase the directive as a concrete instruction for a " +
	"planning agent; use \"ignore\" for noise, duplicates and events that " +
	"need no code changes."

// coordinateDecision — разобранный ответ триажа.
type coordinateDecision struct {
	Decision  string `json:"decision"`
	Directive string `json:"directive"`
	Reasoning string `json:"reasoning"`
}

// CoordinateStep — триаж корневого события.
//
// Смотрит на событие и его span-цепочку и решает: игнорировать или
// передать директиву планировщику. Деградирует мягко: если вызов
// агента или разбор ответа не удался, событие всё равно уходит в
// планирование с текстом события в роли директивы — триаж не имеет
// права потерять событие.
type CoordinateStep struct {
	store       store.Store
	invoker     agent.Invoker
	workspace   string
	maxParallel int
}

// NewCoordinateStep создаёт шаг триажа.
func NewCoordinateStep(deps Deps) *CoordinateStep {
	return &CoordinateStep{
		store:       deps.Store,
		invoker:     deps.Invoker,
		workspace:   deps.Workspace,
		maxParallel: deps.maxFor(domain.ActionCoordinate, defaultCoordinateParallel),
	}
}

func (s *CoordinateStep) Config() step.Config {
	return step.Config{
		ActionType:  domain.ActionCoordinate,
		MaxParallel: s.maxParallel,
		DedupBy:     step.DedupTraceID,
	}
}

func (s *CoordinateStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	span, err := openSpan(ctx, s.store, pending, "coordinate", "triage: "+pending.Summary, nil)
	if err != nil {
		return step.Result{}, err
	}

	decision := s.triage(ctx, pending, sc)

	if decision.Decision == "ignore" {
		if err := s.store.CompleteSpan(ctx, span.ID, domain.StepStatusCompleted, "decision: ignore", map[string]any{
			"decision": "ignore",
		}); err != nil {
			return step.Result{}, err
		}
		return step.Result{
			SpanID:    span.ID,
			Terminal:  true,
			Reasoning: decision.Reasoning,
		}, nil
	}

	planID := newActionID()
	err = enqueueAction(ctx, s.store, enqueueSpec{
		ActionID:  planID,
		TraceID:   pending.TraceID,
		SpanID:    span.ID,
		Action:    domain.ActionPlan,
		Summary:   decision.Directive,
		Reasoning: decision.Reasoning,
		Meta: map[string]any{
			"directive": decision.Directive,
		},
	})
	if err != nil {
		return step.Result{}, err
	}

	if err := s.store.CompleteSpan(ctx, span.ID, domain.StepStatusCompleted, "decision: plan", map[string]any{
		"decision":  "plan",
		"directive": decision.Directive,
	}); err != nil {
		return step.Result{}, err
	}

	return step.Result{
		SpanID:    span.ID,
		Reasoning: decision.Reasoning,
		EnqueuedActions: []step.EnqueuedAction{
			{ActionID: planID, Action: domain.ActionPlan, Summary: decision.Directive},
		},
	}, nil
}

// triage спрашивает агента и разбирает ответ. Любая неудача сводится
// к решению "plan" с событием в роли директивы.
func (s *CoordinateStep) triage(ctx context.Context, pending domain.PendingAction, sc step.Context) coordinateDecision {
	fallback := coordinateDecision{
		Decision:  "plan",
		Directive: pending.Summary,
		Reasoning: "triage unavailable, forwarding the event to planning",
	}

	chain, err := s.store.GetSpanTrace(ctx, pending.SpanID)
	if err != nil {
		sc.Logger.Warn("triage: span chain unavailable", "error", err)
		chain = nil
	}

	var prompt strings.Builder
	prompt.WriteString("Incoming event:\n")
	prompt.WriteString(pending.Summary)
	prompt.WriteString("\n")
	if len(chain) > 0 {
		prompt.WriteString("\nCausal history (root first):\n")
		prompt.WriteString(spanChainText(chain))
	}

	raw, err := s.invoker.Invoke(ctx, prompt.String(), agent.InvokeOptions{
		SystemPrompt: coordinateSystemPrompt,
		CWD:          s.workspace,
		Tools:        readOnlyTools,
		JSON:         true,
	})
	if err != nil {
		sc.Logger.Warn("triage invoke failed, degrading to plan", "error", err)
		return fallback
	}

	var decision coordinateDecision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decision); err != nil {
		sc.Logger.Warn("triage response unparseable, degrading to plan", "error", err)
		return fallback
	}

	switch decision.Decision {
	case "ignore":
	case "plan":
		if strings.TrimSpace(decision.Directive) == "" {
			decision.Directive = pending.Summary
		}
	default:
		sc.Logger.Warn("triage returned unknown decision, degrading to plan",
			"decision", decision.Decision)
		return fallback
	}
	if decision.Reasoning == "" {
		decision.Reasoning = fmt.Sprintf("triage decision: %s", decision.Decision)
	}
	return decision
}
