package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

// --- Test fixtures ---

// fakeStep — конфигурируемый шаг для тестов оркестратора.
type fakeStep struct {
	cfg     step.Config
	process func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error)
	monitor func(ctx context.Context, mc step.MonitorContext) (*step.TraceMutations, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeStep) Config() step.Config { return f.cfg }

func (f *fakeStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pending.ActionID)
	f.mu.Unlock()

	if f.process != nil {
		return f.process(ctx, pending, sc)
	}
	return step.Result{}, nil
}

func (f *fakeStep) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStep) calledWith() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// monitoredStep — fakeStep с Monitor-хуком.
type monitoredStep struct {
	fakeStep
}

func (m *monitoredStep) Monitor(ctx context.Context, mc step.MonitorContext) (*step.TraceMutations, error) {
	if m.monitor != nil {
		return m.monitor(ctx, mc)
	}
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, reg *step.Registry) (*StepOrchestrator, store.Store) {
	t.Helper()

	st, err := store.OpenSQLite(context.Background(), store.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	o := New(Config{
		Store:    st,
		Registry: reg,
		Logger:   testLogger(),
	})
	return o, st
}

// enqueue пишет Action и PendingAction, как это делает продюсер событий.
func enqueue(t *testing.T, st store.Store, traceID, actionID, actionType, summary string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	err := st.AddAction(ctx, &domain.Action{
		ID:        actionID,
		TraceID:   traceID,
		Action:    actionType,
		SpanID:    "span-" + actionID,
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("AddAction(%s): %v", actionID, err)
	}
	err = st.AddPending(ctx, &domain.PendingAction{
		ActionID:  actionID,
		TraceID:   traceID,
		SpanID:    "span-" + actionID,
		Action:    actionType,
		Summary:   summary,
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("AddPending(%s): %v", actionID, err)
	}
}

// addPendingRaw пишет Action и PendingAction без *testing.T — для
// вызова из Process/Monitor фейков.
func addPendingRaw(ctx context.Context, st store.Store, traceID, actionID, actionType string) {
	now := time.Now()
	_ = st.AddAction(ctx, &domain.Action{
		ID: actionID, TraceID: traceID, Action: actionType,
		SpanID: "span-" + actionID, Timestamp: now,
	})
	_ = st.AddPending(ctx, &domain.PendingAction{
		ActionID: actionID, TraceID: traceID, SpanID: "span-" + actionID,
		Action: actionType, Summary: actionType, CreatedAt: now,
	})
}

func pendingIDs(t *testing.T, st store.Store) []string {
	t.Helper()
	pending, err := st.GetPending(context.Background())
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ActionID)
	}
	return ids
}

// --- Drain tests ---

func TestDrainProcessesEntry(t *testing.T) {
	reg := step.NewRegistry()
	coordinate := &fakeStep{
		cfg: step.Config{ActionType: "coordinate", MaxParallel: 1},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			return step.Result{Reasoning: "triaged"}, nil
		},
	}
	reg.Register(coordinate)

	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-1", "coordinate", "new issue")

	o.drain(context.Background())

	if got := coordinate.callCount(); got != 1 {
		t.Errorf("process calls = %d, want 1", got)
	}
	if ids := pendingIDs(t, st); len(ids) != 0 {
		t.Errorf("queue not drained: %v", ids)
	}

	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if tr.Summary != "new issue" {
		t.Errorf("trace summary = %q", tr.Summary)
	}
	s := tr.FindStep("act-1")
	if s == nil {
		t.Fatal("step act-1 missing from trace")
	}
	// Empty result status defaults to completed.
	if s.Status != domain.StepStatusCompleted {
		t.Errorf("step status = %s, want completed", s.Status)
	}
	if s.Reasoning != "triaged" {
		t.Errorf("step reasoning = %q", s.Reasoning)
	}
	if got := o.ProcessedCount("coordinate"); got != 1 {
		t.Errorf("processed count = %d, want 1", got)
	}
	if got := o.Status("coordinate"); got != domain.DispatchIdle {
		t.Errorf("dispatch status = %s, want idle", got)
	}
}

func TestPendingResultKeepsEntryQueued(t *testing.T) {
	reg := step.NewRegistry()
	workflow := &fakeStep{
		cfg: step.Config{ActionType: "workflow", MaxParallel: 2},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			return step.Result{Status: domain.StepStatusPending}, nil
		},
	}
	reg.Register(workflow)

	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-1", "workflow", "run task")

	o.drain(context.Background())

	// The entry survives a pending result.
	if ids := pendingIDs(t, st); len(ids) != 1 || ids[0] != "act-1" {
		t.Errorf("queue = %v, want [act-1]", ids)
	}
	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	s := tr.FindStep("act-1")
	if s == nil {
		t.Fatal("step act-1 missing from trace")
	}
	if s.Status != domain.StepStatusPending {
		t.Errorf("step status = %s, want pending", s.Status)
	}
	// Not counted as processed until a terminal result.
	if got := o.ProcessedCount("workflow"); got != 0 {
		t.Errorf("processed count = %d, want 0", got)
	}
}

func TestCascadeCompleteness(t *testing.T) {
	// event → coordinate → plan → 3 jobs, all within a single drain.
	reg := step.NewRegistry()
	var st store.Store

	coordinate := &fakeStep{
		cfg: step.Config{ActionType: "coordinate", MaxParallel: 1, DedupBy: step.DedupTraceID},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			addPendingRaw(ctx, st, pending.TraceID, "act-plan", "plan")
			return step.Result{
				Reasoning: "decision: plan",
				EnqueuedActions: []step.EnqueuedAction{
					{ActionID: "act-plan", Action: "plan", Summary: "plan the work"},
				},
			}, nil
		},
	}
	plan := &fakeStep{
		cfg: step.Config{ActionType: "plan", MaxParallel: 1},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			var enqueued []step.EnqueuedAction
			for i := 1; i <= 3; i++ {
				id := fmt.Sprintf("act-job-%d", i)
				addPendingRaw(ctx, st, pending.TraceID, id, "workflow")
				enqueued = append(enqueued, step.EnqueuedAction{ActionID: id, Action: "workflow", Summary: "job"})
			}
			return step.Result{Reasoning: "3 tasks", EnqueuedActions: enqueued}, nil
		},
	}
	workflow := &fakeStep{
		cfg: step.Config{ActionType: "workflow", MaxParallel: 3},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			return step.Result{Status: domain.StepStatusPending}, nil
		},
	}

	reg.Register(coordinate)
	reg.Register(plan)
	reg.Register(workflow)

	o, s := newTestOrchestrator(t, reg)
	st = s
	enqueue(t, st, "trace-1", "act-coord", "coordinate", "new issue")

	o.drain(context.Background())

	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(tr.Steps) != 5 {
		t.Fatalf("trace steps = %d, want 5 (coordinate, plan, 3 jobs)", len(tr.Steps))
	}
	for _, id := range []string{"act-job-1", "act-job-2", "act-job-3"} {
		s := tr.FindStep(id)
		if s == nil {
			t.Fatalf("job step %s missing from trace", id)
		}
		if s.Status != domain.StepStatusPending {
			t.Errorf("job %s status = %s, want pending", id, s.Status)
		}
	}
	// Jobs were dispatched in the cascade, not left for the next tick.
	if got := workflow.callCount(); got != 3 {
		t.Errorf("workflow process calls = %d, want 3", got)
	}
	if ids := pendingIDs(t, st); len(ids) != 3 {
		t.Errorf("queue = %v, want the 3 waiting jobs", ids)
	}
}

func TestDedupByTraceKeepsNewest(t *testing.T) {
	reg := step.NewRegistry()
	coordinate := &fakeStep{
		cfg: step.Config{ActionType: "coordinate", MaxParallel: 1, DedupBy: step.DedupTraceID},
	}
	reg.Register(coordinate)

	o, st := newTestOrchestrator(t, reg)
	ctx := context.Background()

	old := time.Now().Add(-time.Minute)
	addPendingAt(t, st, "trace-1", "act-old", "coordinate", old)
	addPendingAt(t, st, "trace-1", "act-new", "coordinate", old.Add(30*time.Second))

	o.drain(ctx)

	// Only the newest entry per trace was processed.
	calls := coordinate.calledWith()
	if len(calls) != 1 || calls[0] != "act-new" {
		t.Errorf("process calls = %v, want [act-new]", calls)
	}
	// The superseded one is gone without being processed.
	if ids := pendingIDs(t, st); len(ids) != 0 {
		t.Errorf("queue = %v, want empty", ids)
	}
}

func TestMaxParallelBound(t *testing.T) {
	reg := step.NewRegistry()
	workflow := &fakeStep{
		cfg: step.Config{ActionType: "workflow", MaxParallel: 2},
	}
	reg.Register(workflow)

	o, st := newTestOrchestrator(t, reg)
	for i := 1; i <= 5; i++ {
		enqueue(t, st, fmt.Sprintf("trace-%d", i), fmt.Sprintf("act-%d", i), "workflow", "job")
	}

	o.drain(context.Background())

	// At most 2 dispatched in a single pass.
	if got := workflow.callCount(); got != 2 {
		t.Errorf("process calls after first drain = %d, want 2", got)
	}
	if ids := pendingIDs(t, st); len(ids) != 3 {
		t.Errorf("queue = %v, want 3 left", ids)
	}

	// The rest are picked up as slots free.
	o.drain(context.Background())
	if got := workflow.callCount(); got != 4 {
		t.Errorf("process calls after second drain = %d, want 4", got)
	}
	o.drain(context.Background())
	if got := workflow.callCount(); got != 5 {
		t.Errorf("process calls after third drain = %d, want 5", got)
	}
	if ids := pendingIDs(t, st); len(ids) != 0 {
		t.Errorf("queue = %v, want empty", ids)
	}
}

func TestProcessErrorMarksFailedNoRetry(t *testing.T) {
	reg := step.NewRegistry()
	plan := &fakeStep{
		cfg: step.Config{ActionType: "plan", MaxParallel: 1},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			return step.Result{}, errors.New("reasoning call failed")
		},
	}
	reg.Register(plan)

	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-1", "plan", "plan it")

	o.drain(context.Background())

	// Entry removed, no retry.
	if ids := pendingIDs(t, st); len(ids) != 0 {
		t.Errorf("queue = %v, want empty", ids)
	}
	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	s := tr.FindStep("act-1")
	if s == nil {
		t.Fatal("step act-1 missing from trace")
	}
	if s.Status != domain.StepStatusFailed {
		t.Errorf("step status = %s, want failed", s.Status)
	}
	if s.Reasoning != "reasoning call failed" {
		t.Errorf("step reasoning = %q", s.Reasoning)
	}
	if got := o.Status("plan"); got != domain.DispatchError {
		t.Errorf("dispatch status = %s, want error", got)
	}
	// Errors are not counted as processed.
	if got := o.ProcessedCount("plan"); got != 0 {
		t.Errorf("processed count = %d, want 0", got)
	}

	// A later drain finds nothing to redo.
	o.drain(context.Background())
	if got := plan.callCount(); got != 1 {
		t.Errorf("process calls = %d, want 1 (no retry)", got)
	}
}

func TestStepPanicIsContained(t *testing.T) {
	reg := step.NewRegistry()
	bad := &fakeStep{
		cfg: step.Config{ActionType: "plan", MaxParallel: 1},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			panic("boom")
		},
	}
	good := &fakeStep{
		cfg: step.Config{ActionType: "commit", MaxParallel: 1},
	}
	reg.Register(bad)
	reg.Register(good)

	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-bad", "plan", "will panic")
	enqueue(t, st, "trace-2", "act-good", "commit", "fine")

	o.drain(context.Background())

	// The panicking sibling does not take down the batch.
	if got := good.callCount(); got != 1 {
		t.Errorf("sibling process calls = %d, want 1", got)
	}
	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	s := tr.FindStep("act-bad")
	if s == nil || s.Status != domain.StepStatusFailed {
		t.Errorf("panicking step not marked failed: %+v", s)
	}
	if ids := pendingIDs(t, st); len(ids) != 0 {
		t.Errorf("queue = %v, want empty", ids)
	}
}

func TestIdempotentResume(t *testing.T) {
	// Simulates crash-and-retry: the same entry processed twice must
	// not produce two trace steps.
	reg := step.NewRegistry()
	first := true
	workflow := &fakeStep{
		cfg: step.Config{ActionType: "workflow", MaxParallel: 1},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			if first {
				first = false
				return step.Result{Status: domain.StepStatusPending}, nil
			}
			return step.Result{Reasoning: "done"}, nil
		},
	}
	reg.Register(workflow)

	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-1", "workflow", "job")

	o.drain(context.Background())
	o.drain(context.Background())

	if got := workflow.callCount(); got != 2 {
		t.Fatalf("process calls = %d, want 2", got)
	}
	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	count := 0
	for _, s := range tr.Steps {
		if s.ActionID == "act-1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("trace has %d steps for act-1, want 1", count)
	}
	if s := tr.FindStep("act-1"); s.Status != domain.StepStatusCompleted {
		t.Errorf("final status = %s, want completed", s.Status)
	}
}

func TestEnqueueThenResolveInOneResult(t *testing.T) {
	// A terminal step may report a continuation and close it in the
	// same result: enqueued steps are appended before mutations apply.
	reg := step.NewRegistry()
	resolve := &fakeStep{
		cfg: step.Config{ActionType: "resolve", MaxParallel: 1},
		process: func(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
			return step.Result{
				Reasoning: "nothing to push",
				EnqueuedActions: []step.EnqueuedAction{
					{ActionID: "act-push", Action: "push", Summary: "push branch"},
				},
				TraceMutations: &step.TraceMutations{
					StepUpdates: []step.StepUpdate{
						{ActionID: "act-push", Status: domain.StepStatusCompleted, Reasoning: "no push needed"},
					},
				},
			}, nil
		},
	}
	reg.Register(resolve)

	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-resolve", "resolve", "resolve")

	o.drain(context.Background())

	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	s := tr.FindStep("act-push")
	if s == nil {
		t.Fatal("push step missing from trace")
	}
	if s.Status != domain.StepStatusCompleted {
		t.Errorf("push status = %s, want completed", s.Status)
	}
	if s.Reasoning != "no push needed" {
		t.Errorf("push reasoning = %q", s.Reasoning)
	}
	if ids := pendingIDs(t, st); len(ids) != 0 {
		t.Errorf("queue = %v, want empty", ids)
	}
}

func TestMonitorEnqueuesWork(t *testing.T) {
	// A monitor notices external completion and enqueues follow-up work
	// that the same drain then processes.
	reg := step.NewRegistry()
	var st store.Store

	seeded := false
	workflow := &monitoredStep{fakeStep: fakeStep{
		cfg: step.Config{ActionType: "workflow", MaxParallel: 1},
	}}
	workflow.monitor = func(ctx context.Context, mc step.MonitorContext) (*step.TraceMutations, error) {
		if seeded {
			return nil, nil
		}
		seeded = true
		addPendingRaw(ctx, st, "trace-1", "act-1", "workflow")
		return nil, nil
	}
	reg.Register(workflow)

	o, s := newTestOrchestrator(t, reg)
	st = s

	o.drain(context.Background())

	if got := workflow.callCount(); got != 1 {
		t.Errorf("process calls = %d, want 1 (monitor-seeded entry)", got)
	}
}

func TestUnroutableEntriesStayQueued(t *testing.T) {
	reg := step.NewRegistry()
	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-1", "mystery", "no step for this")

	o.drain(context.Background())

	if ids := pendingIDs(t, st); len(ids) != 1 || ids[0] != "act-1" {
		t.Errorf("queue = %v, want [act-1]", ids)
	}
}

// --- Coalescing ---

func TestDrainRequestsCoalesce(t *testing.T) {
	reg := step.NewRegistry()
	mon := &monitoredStep{fakeStep: fakeStep{
		cfg: step.Config{ActionType: "workflow", MaxParallel: 1},
	}}
	var monitorCalls int
	mon.monitor = func(ctx context.Context, mc step.MonitorContext) (*step.TraceMutations, error) {
		monitorCalls++
		return nil, nil
	}
	reg.Register(mon)

	o, _ := newTestOrchestrator(t, reg)

	// Simulate requests arriving while a drain is in progress: however
	// many come in, exactly one follow-up runs.
	o.stateMu.Lock()
	o.started = true
	o.runCtx = context.Background()
	o.stateMu.Unlock()

	o.drainMu.Lock()
	o.draining = true
	o.drainMu.Unlock()

	o.RequestDrain()
	o.RequestDrain()
	o.RequestDrain()

	o.drainMu.Lock()
	if !o.drainRequested {
		t.Error("drainRequested should be set")
	}
	o.drainMu.Unlock()

	// Monitors run once per pass: the current drain plus exactly one
	// coalesced follow-up.
	o.drainUntilQuiet(context.Background())
	if monitorCalls != 2 {
		t.Errorf("monitor calls = %d, want 2 (one drain + one coalesced retry)", monitorCalls)
	}

	o.drainMu.Lock()
	if o.draining || o.drainRequested {
		t.Error("drain flags should be clear after quiescence")
	}
	o.drainMu.Unlock()
}

// --- Restore ---

func TestRestoreTraces(t *testing.T) {
	reg := step.NewRegistry()
	o, st := newTestOrchestrator(t, reg)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	// Root event span.
	if err := st.AddSpan(ctx, &domain.Span{
		ID: "span-root", TraceID: "trace-1", Step: "event",
		Timestamp: base, Summary: "issue #42 opened",
	}); err != nil {
		t.Fatalf("AddSpan: %v", err)
	}

	// Coordinate ran to completion: action plus a completed child span.
	if err := st.AddAction(ctx, &domain.Action{
		ID: "act-coord", TraceID: "trace-1", Action: "coordinate",
		SpanID: "span-root", Timestamp: base.Add(time.Second),
	}); err != nil {
		t.Fatalf("AddAction: %v", err)
	}
	if err := st.AddSpan(ctx, &domain.Span{
		ID: "span-coord", TraceID: "trace-1", ActionID: "act-coord",
		Step: "coordinate", Parent: "span-root",
		Timestamp: base.Add(2 * time.Second), Summary: "triage",
	}); err != nil {
		t.Fatalf("AddSpan: %v", err)
	}
	if err := st.CompleteSpan(ctx, "span-coord", domain.StepStatusCompleted, "decision: plan", nil); err != nil {
		t.Fatalf("CompleteSpan: %v", err)
	}

	// Plan is still queued.
	if err := st.AddAction(ctx, &domain.Action{
		ID: "act-plan", TraceID: "trace-1", Action: "plan",
		SpanID: "span-coord", Timestamp: base.Add(3 * time.Second),
	}); err != nil {
		t.Fatalf("AddAction: %v", err)
	}
	if err := st.AddPending(ctx, &domain.PendingAction{
		ActionID: "act-plan", TraceID: "trace-1", SpanID: "span-coord",
		Action: "plan", Summary: "plan the work", CreatedAt: base.Add(3 * time.Second),
	}); err != nil {
		t.Fatalf("AddPending: %v", err)
	}

	if err := o.restoreTraces(ctx); err != nil {
		t.Fatalf("restoreTraces: %v", err)
	}

	tr, err := o.Trace("trace-1")
	if err != nil {
		t.Fatalf("Trace after restore: %v", err)
	}
	if tr.Summary != "issue #42 opened" {
		t.Errorf("trace summary = %q", tr.Summary)
	}
	if len(tr.Steps) != 2 {
		t.Fatalf("trace steps = %d, want 2", len(tr.Steps))
	}

	coord := tr.FindStep("act-coord")
	if coord == nil || coord.Status != domain.StepStatusCompleted {
		t.Errorf("coordinate step = %+v, want completed", coord)
	}
	if coord != nil && coord.Reasoning != "decision: plan" {
		t.Errorf("coordinate reasoning = %q", coord.Reasoning)
	}
	plan := tr.FindStep("act-plan")
	if plan == nil || plan.Status != domain.StepStatusPending {
		t.Errorf("plan step = %+v, want pending", plan)
	}
}

// --- Lifecycle ---

func TestStartStop(t *testing.T) {
	reg := step.NewRegistry()
	coordinate := &fakeStep{
		cfg: step.Config{ActionType: "coordinate", MaxParallel: 1},
	}
	reg.Register(coordinate)

	o, st := newTestOrchestrator(t, reg)
	enqueue(t, st, "trace-1", "act-1", "coordinate", "queued before start")

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	// The initial drain picks up the queue left from before start.
	deadline := time.Now().Add(5 * time.Second)
	for coordinate.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial drain never processed the queued entry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	o.Stop()
	o.Stop() // second Stop is a no-op

	// After Stop no new drains start.
	enqueue(t, st, "trace-2", "act-2", "coordinate", "after stop")
	o.RequestDrain()
	time.Sleep(50 * time.Millisecond)
	if got := coordinate.callCount(); got != 1 {
		t.Errorf("process calls after stop = %d, want 1", got)
	}
}

// --- Helpers ---

func addPendingAt(t *testing.T, st store.Store, traceID, actionID, actionType string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()

	err := st.AddAction(ctx, &domain.Action{
		ID: actionID, TraceID: traceID, Action: actionType,
		SpanID: "span-" + actionID, Timestamp: createdAt,
	})
	if err != nil {
		t.Fatalf("AddAction(%s): %v", actionID, err)
	}
	err = st.AddPending(ctx, &domain.PendingAction{
		ActionID: actionID, TraceID: traceID, SpanID: "span-" + actionID,
		Action: actionType, Summary: actionType, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("AddPending(%s): %v", actionID, err)
	}
}
