package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
	"github.com/endorhq/rover-sub001/internal/ingest"
	"github.com/endorhq/rover-sub001/internal/orchestrator"
	"github.com/endorhq/rover-sub001/internal/step"
	"github.com/endorhq/rover-sub001/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubStep закрывает coordinate-записи, чтобы оркестратор в тестах не
// требовал полного конвейера.
type stubStep struct{}

func (stubStep) Config() step.Config {
	return step.Config{ActionType: domain.ActionCoordinate, MaxParallel: 1}
}

func (stubStep) Process(ctx context.Context, pending domain.PendingAction, sc step.Context) (step.Result, error) {
	return step.Result{Terminal: true, Reasoning: "noop"}, nil
}

func newTestAPI(t *testing.T) (*http.ServeMux, store.Store, *orchestrator.StepOrchestrator) {
	t.Helper()

	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, store.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := step.NewRegistry()
	reg.Register(stubStep{})

	orch := orchestrator.New(orchestrator.Config{
		Store:    st,
		Registry: reg,
		Logger:   testLogger(),
	})

	ing := ingest.New(ingest.Config{Store: st, Logger: testLogger()})

	h := NewHandler(Config{
		Store:        st,
		Orchestrator: orch,
		Registry:     reg,
		Ingestor:     ing,
		Logger:       testLogger(),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, st, orch
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func TestPostEventCreatesTrace(t *testing.T) {
	mux, st, _ := newTestAPI(t)

	body := `{"external_id":"gh_1","kind":"github_issue","summary":"issue opened"}`
	rec := doRequest(t, mux, http.MethodPost, "/api/v1/events", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	accepted := decodeData[EventAccepted](t, rec)
	if accepted.TraceID == "" {
		t.Fatal("expected trace id")
	}
	if accepted.Duplicate {
		t.Error("first event must not be a duplicate")
	}

	pending, err := st.GetPending(context.Background())
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Action != domain.ActionCoordinate {
		t.Fatalf("expected one coordinate entry, got %+v", pending)
	}

	// Повтор с тем же external_id — duplicate, без нового flow.
	rec2 := doRequest(t, mux, http.MethodPost, "/api/v1/events", body)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", rec2.Code)
	}
	dup := decodeData[EventAccepted](t, rec2)
	if !dup.Duplicate {
		t.Error("expected duplicate:true")
	}
	if dup.TraceID != "" {
		t.Errorf("duplicate must not carry a trace id, got %q", dup.TraceID)
	}
}

func TestPostEventValidation(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty summary", `{"kind":"github_issue"}`},
		{"blank summary", `{"summary":"   "}`},
		{"broken json", `{"summary":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, mux, http.MethodPost, "/api/v1/events", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if resp.Error.Code != ErrCodeBadRequest {
				t.Errorf("unexpected error code %q", resp.Error.Code)
			}
		})
	}
}

func TestListTracesEmpty(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/traces", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	traces := decodeData[[]TraceResponse](t, rec)
	if len(traces) != 0 {
		t.Errorf("expected empty list, got %d traces", len(traces))
	}
}

func TestGetTraceAfterRestore(t *testing.T) {
	mux, _, orch := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/events", `{"summary":"issue opened","kind":"github_issue"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("post event: %d", rec.Code)
	}
	traceID := decodeData[EventAccepted](t, rec).TraceID

	// Start восстанавливает trace-проекцию из хранилища.
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("start orchestrator: %v", err)
	}
	t.Cleanup(orch.Stop)

	got := doRequest(t, mux, http.MethodGet, "/api/v1/traces/"+traceID, "")
	if got.Code != http.StatusOK {
		t.Fatalf("get trace: %d: %s", got.Code, got.Body.String())
	}
	tr := decodeData[TraceResponse](t, got)
	if tr.TraceID != traceID {
		t.Errorf("trace id = %q, want %q", tr.TraceID, traceID)
	}
	if tr.Summary != "issue opened" {
		t.Errorf("summary = %q", tr.Summary)
	}

	list := doRequest(t, mux, http.MethodGet, "/api/v1/traces", "")
	if got := decodeData[[]TraceResponse](t, list); len(got) != 1 {
		t.Errorf("expected 1 trace in list, got %d", len(got))
	}
}

func TestGetTraceNotFound(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/traces/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("unexpected code %q", resp.Error.Code)
	}
}

func TestGetSpanChain(t *testing.T) {
	mux, st, _ := newTestAPI(t)
	ctx := context.Background()

	root := &domain.Span{
		ID:        "span-root",
		TraceID:   "tr-1",
		Step:      "event",
		Timestamp: time.Now().UTC(),
		Summary:   "issue opened",
	}
	child := &domain.Span{
		ID:        "span-child",
		TraceID:   "tr-1",
		Step:      "plan",
		Parent:    "span-root",
		Timestamp: time.Now().UTC(),
		Summary:   "planning",
	}
	if err := st.AddSpan(ctx, root); err != nil {
		t.Fatalf("add root: %v", err)
	}
	if err := st.AddSpan(ctx, child); err != nil {
		t.Fatalf("add child: %v", err)
	}

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/spans/span-child/chain", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	chain := decodeData[[]SpanResponse](t, rec)
	if len(chain) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(chain))
	}
	if chain[0].ID != "span-root" || chain[1].ID != "span-child" {
		t.Errorf("chain must be root-first, got %q then %q", chain[0].ID, chain[1].ID)
	}
}

func TestGetSpanChainNotFound(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/spans/missing/chain", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetLogRespectsLimit(t *testing.T) {
	mux, st, _ := newTestAPI(t)
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		entry := &domain.LogEntry{
			Timestamp: time.Now().UTC(),
			Step:      "ingest",
			Message:   msg,
		}
		if err := st.AppendLog(ctx, entry); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/log?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entries := decodeData[[]LogEntryResponse](t, rec)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "second" || entries[1].Message != "third" {
		t.Errorf("expected the two newest entries in order, got %+v", entries)
	}
}

func TestGetLogRejectsBadLimit(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	for _, limit := range []string{"zero", "0", "-5"} {
		rec := doRequest(t, mux, http.MethodGet, "/api/v1/log?limit="+limit, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, rec.Code)
		}
	}
}

func TestGetStatus(t *testing.T) {
	mux, _, _ := newTestAPI(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	status := decodeData[StatusResponse](t, rec)
	if status.Traces != 0 || status.Pending != 0 {
		t.Errorf("fresh engine must be empty, got %+v", status)
	}
	if len(status.Steps) != 1 {
		t.Fatalf("expected 1 registered step, got %d", len(status.Steps))
	}
	if status.Steps[0].Type != domain.ActionCoordinate {
		t.Errorf("step type = %q", status.Steps[0].Type)
	}
	if status.Steps[0].Status != string(domain.DispatchIdle) {
		t.Errorf("idle engine must report idle, got %q", status.Steps[0].Status)
	}
}

func TestListPendingSorted(t *testing.T) {
	mux, st, _ := newTestAPI(t)
	ctx := context.Background()

	older := &domain.PendingAction{
		TraceID:   "tr-1",
		ActionID:  "act-1",
		SpanID:    "span-1",
		Action:    domain.ActionPlan,
		Summary:   "plan work",
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	newer := &domain.PendingAction{
		TraceID:   "tr-2",
		ActionID:  "act-2",
		SpanID:    "span-2",
		Action:    domain.ActionCommit,
		Summary:   "commit results",
		CreatedAt: time.Now().UTC(),
	}
	// Вставляем в обратном порядке.
	if err := st.AddPending(ctx, newer); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if err := st.AddPending(ctx, older); err != nil {
		t.Fatalf("add pending: %v", err)
	}

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entries := decodeData[[]PendingResponse](t, rec)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ActionID != "act-1" || entries[1].ActionID != "act-2" {
		t.Errorf("entries must be sorted by creation time, got %+v", entries)
	}
}
