package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/endorhq/rover-sub001/internal/domain"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS spans (
		id        TEXT PRIMARY KEY,
		trace_id  TEXT NOT NULL,
		action_id TEXT,
		step      TEXT NOT NULL,
		parent    TEXT,
		ts        TIMESTAMPTZ NOT NULL,
		summary   TEXT NOT NULL,
		meta      JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id)`,
	`CREATE TABLE IF NOT EXISTS span_completions (
		span_id        TEXT PRIMARY KEY,
		status         TEXT NOT NULL CHECK(status IN ('completed', 'failed', 'error')),
		completed_at   TIMESTAMPTZ NOT NULL,
		result_summary TEXT,
		result         JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS actions (
		id        TEXT PRIMARY KEY,
		trace_id  TEXT NOT NULL,
		action    TEXT NOT NULL,
		span_id   TEXT NOT NULL,
		ts        TIMESTAMPTZ NOT NULL,
		meta      JSONB,
		reasoning TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_trace ON actions(trace_id)`,
	`CREATE TABLE IF NOT EXISTS pending_actions (
		action_id  TEXT PRIMARY KEY,
		trace_id   TEXT NOT NULL,
		span_id    TEXT NOT NULL,
		action     TEXT NOT NULL,
		summary    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		meta       JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_action ON pending_actions(action)`,
	`CREATE TABLE IF NOT EXISTS task_mappings (
		action_id   TEXT PRIMARY KEY,
		task_id     TEXT NOT NULL,
		branch_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		external_id  TEXT PRIMARY KEY,
		processed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engine_log (
		id        BIGSERIAL PRIMARY KEY,
		ts        TIMESTAMPTZ NOT NULL,
		step      TEXT NOT NULL,
		trace_id  TEXT,
		action_id TEXT,
		message   TEXT NOT NULL
	)`,
}

// Postgres — хранилище для развёртываний, где sqlite-файла мало:
// несколько читателей, внешние дашборды.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres создаёт пул соединений и инициализирует схему.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns < 4 {
		cfg.MaxConns = 4
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// Close закрывает пул соединений.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// --- Spans ---

func (p *Postgres) AddSpan(ctx context.Context, span *domain.Span) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO spans (id, trace_id, action_id, step, parent, ts, summary, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		span.ID,
		span.TraceID,
		pgText(span.ActionID),
		span.Step,
		pgText(span.Parent),
		span.Timestamp,
		span.Summary,
		pgMeta(span.Meta),
	)
	if err != nil {
		return fmt.Errorf("insert span: %w", err)
	}
	return nil
}

func (p *Postgres) GetSpan(ctx context.Context, id string) (*domain.Span, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT s.id, s.trace_id, s.action_id, s.step, s.parent, s.ts, s.summary, s.meta,
		       c.status, c.completed_at, c.result_summary, c.result
		FROM spans s
		LEFT JOIN span_completions c ON c.span_id = s.id
		WHERE s.id = $1`, id)
	span, err := scanPGSpan(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return span, err
}

func (p *Postgres) CompleteSpan(ctx context.Context, spanID string, status domain.StepStatus, summary string, result map[string]any) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO span_completions (span_id, status, completed_at, result_summary, result)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (span_id) DO NOTHING`,
		spanID,
		string(status),
		time.Now().UTC(),
		pgText(summary),
		pgMeta(result),
	)
	if err != nil {
		return fmt.Errorf("complete span: %w", err)
	}
	return nil
}

func (p *Postgres) GetSpanTrace(ctx context.Context, spanID string) ([]domain.Span, error) {
	var chain []domain.Span
	seen := make(map[string]bool)
	id := spanID
	for id != "" && !seen[id] {
		seen[id] = true
		span, err := p.GetSpan(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) && len(chain) > 0 {
				break
			}
			return nil, err
		}
		chain = append(chain, *span)
		id = span.Parent
	}
	reverseSpans(chain)
	return chain, nil
}

func (p *Postgres) ListSpansByTrace(ctx context.Context, traceID string) ([]domain.Span, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT s.id, s.trace_id, s.action_id, s.step, s.parent, s.ts, s.summary, s.meta,
		       c.status, c.completed_at, c.result_summary, c.result
		FROM spans s
		LEFT JOIN span_completions c ON c.span_id = s.id
		WHERE s.trace_id = $1
		ORDER BY s.ts ASC, s.id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("list spans: %w", err)
	}
	defer rows.Close()

	var spans []domain.Span
	for rows.Next() {
		span, err := scanPGSpan(rows.Scan)
		if err != nil {
			return nil, err
		}
		spans = append(spans, *span)
	}
	return spans, rows.Err()
}

// --- Actions ---

func (p *Postgres) AddAction(ctx context.Context, action *domain.Action) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO actions (id, trace_id, action, span_id, ts, meta, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		action.ID,
		action.TraceID,
		action.Action,
		action.SpanID,
		action.Timestamp,
		pgMeta(action.Meta),
		pgText(action.Reasoning),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (p *Postgres) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, trace_id, action, span_id, ts, meta, reasoning
		FROM actions WHERE id = $1`, id)
	action, err := scanPGAction(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return action, err
}

func (p *Postgres) ListActionsByTrace(ctx context.Context, traceID string) ([]domain.Action, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, trace_id, action, span_id, ts, meta, reasoning
		FROM actions
		WHERE trace_id = $1
		ORDER BY ts ASC, id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		action, err := scanPGAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
	}
	return actions, rows.Err()
}

// --- Pending queue ---

func (p *Postgres) AddPending(ctx context.Context, pending *domain.PendingAction) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO pending_actions (action_id, trace_id, span_id, action, summary, created_at, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (action_id) DO NOTHING`,
		pending.ActionID,
		pending.TraceID,
		pending.SpanID,
		pending.Action,
		pending.Summary,
		pending.CreatedAt,
		pgMeta(pending.Meta),
	)
	if err != nil {
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

func (p *Postgres) GetPending(ctx context.Context) ([]domain.PendingAction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT action_id, trace_id, span_id, action, summary, created_at, meta
		FROM pending_actions
		ORDER BY created_at ASC, action_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var pendings []domain.PendingAction
	for rows.Next() {
		var pa domain.PendingAction
		if err := rows.Scan(&pa.ActionID, &pa.TraceID, &pa.SpanID, &pa.Action, &pa.Summary, &pa.CreatedAt, &pa.Meta); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		pendings = append(pendings, pa)
	}
	return pendings, rows.Err()
}

func (p *Postgres) RemovePending(ctx context.Context, actionID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM pending_actions WHERE action_id = $1`, actionID); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

// --- Task mappings ---

func (p *Postgres) PutTaskMapping(ctx context.Context, m *domain.TaskMapping) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO task_mappings (action_id, task_id, branch_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (action_id) DO NOTHING`,
		m.ActionID, m.TaskID, m.BranchName)
	if err != nil {
		return fmt.Errorf("insert task mapping: %w", err)
	}
	return nil
}

func (p *Postgres) GetTaskMapping(ctx context.Context, actionID string) (*domain.TaskMapping, error) {
	var m domain.TaskMapping
	err := p.pool.QueryRow(ctx, `
		SELECT action_id, task_id, branch_name
		FROM task_mappings WHERE action_id = $1`, actionID).
		Scan(&m.ActionID, &m.TaskID, &m.BranchName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task mapping: %w", err)
	}
	return &m, nil
}

// --- Event dedup cursor ---

func (p *Postgres) IsEventProcessed(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_events WHERE external_id = $1`, externalID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return true, nil
}

func (p *Postgres) MarkEventsProcessed(ctx context.Context, externalIDs []string) error {
	now := time.Now().UTC()
	for _, id := range externalIDs {
		if _, err := p.pool.Exec(ctx, `
			INSERT INTO processed_events (external_id, processed_at)
			VALUES ($1, $2)
			ON CONFLICT (external_id) DO NOTHING`, id, now); err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
	}
	return nil
}

// --- Engine log ---

func (p *Postgres) AppendLog(ctx context.Context, entry *domain.LogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO engine_log (ts, step, trace_id, action_id, message)
		VALUES ($1, $2, $3, $4, $5)`,
		ts.UTC(),
		entry.Step,
		pgText(entry.TraceID),
		pgText(entry.ActionID),
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (p *Postgres) ListLog(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, ts, step, trace_id, action_id, message
		FROM engine_log
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var traceID, actionID *string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Step, &traceID, &actionID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.TraceID = deref(traceID)
		e.ActionID = deref(actionID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseLog(entries)
	return entries, nil
}

func (p *Postgres) ListTraceIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT trace_id FROM actions
		UNION
		SELECT trace_id FROM pending_actions
		ORDER BY trace_id`)
	if err != nil {
		return nil, fmt.Errorf("list trace ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan trace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Helpers ---

func scanPGSpan(scan func(dest ...any) error) (*domain.Span, error) {
	var span domain.Span
	var actionID, parent *string
	var cStatus, cSummary *string
	var cAt *time.Time
	var cResult map[string]any

	if err := scan(
		&span.ID, &span.TraceID, &actionID, &span.Step, &parent, &span.Timestamp, &span.Summary, &span.Meta,
		&cStatus, &cAt, &cSummary, &cResult,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan span: %w", err)
	}

	span.ActionID = deref(actionID)
	span.Parent = deref(parent)
	if cStatus != nil {
		span.Status = domain.StepStatus(*cStatus)
		span.CompletedAt = cAt
		span.ResultSummary = deref(cSummary)
		span.Result = cResult
	}
	return &span, nil
}

func scanPGAction(scan func(dest ...any) error) (*domain.Action, error) {
	var action domain.Action
	var reasoning *string
	if err := scan(&action.ID, &action.TraceID, &action.Action, &action.SpanID, &action.Timestamp, &action.Meta, &reasoning); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan action: %w", err)
	}
	action.Reasoning = deref(reasoning)
	return &action, nil
}

// pgText возвращает NULL для пустой строки.
func pgText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// pgMeta возвращает NULL для пустой карты, иначе карта кодируется в JSONB.
func pgMeta(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
