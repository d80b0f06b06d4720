package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/endorhq/rover-sub001/internal/domain"
)

const (
	sqliteSchemaVersion = 1

	stateDirName = ".autopilot"
	dbFileName   = "autopilot.db"
)

// DDL делится на отдельные стейтменты: database/sql у sqlite выполняет
// по одному стейтменту за Exec.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS spans (
		id        TEXT PRIMARY KEY,
		trace_id  TEXT NOT NULL,
		action_id TEXT,
		step      TEXT NOT NULL,
		parent    TEXT,
		ts        TEXT NOT NULL,
		summary   TEXT NOT NULL,
		meta      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id)`,
	`CREATE TABLE IF NOT EXISTS span_completions (
		span_id        TEXT PRIMARY KEY,
		status         TEXT NOT NULL CHECK(status IN ('completed', 'failed', 'error')),
		completed_at   TEXT NOT NULL,
		result_summary TEXT,
		result         TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS actions (
		id        TEXT PRIMARY KEY,
		trace_id  TEXT NOT NULL,
		action    TEXT NOT NULL,
		span_id   TEXT NOT NULL,
		ts        TEXT NOT NULL,
		meta      TEXT,
		reasoning TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_trace ON actions(trace_id)`,
	`CREATE TABLE IF NOT EXISTS pending_actions (
		action_id  TEXT PRIMARY KEY,
		trace_id   TEXT NOT NULL,
		span_id    TEXT NOT NULL,
		action     TEXT NOT NULL,
		summary    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		meta       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_action ON pending_actions(action)`,
	`CREATE TABLE IF NOT EXISTS task_mappings (
		action_id   TEXT PRIMARY KEY,
		task_id     TEXT NOT NULL,
		branch_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		external_id  TEXT PRIMARY KEY,
		processed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engine_log (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		ts        TEXT NOT NULL,
		step      TEXT NOT NULL,
		trace_id  TEXT,
		action_id TEXT,
		message   TEXT NOT NULL
	)`,
}

// SQLite — хранилище по умолчанию: один файл в каталоге workspace,
// без внешних сервисов.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite открывает (и при необходимости создаёт) SQLite-хранилище.
func OpenSQLite(ctx context.Context, cfg Config) (*SQLite, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dir := filepath.Join(cfg.Workspace, stateDirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		dsn = filepath.Join(dir, dbFileName)
	}

	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Одно соединение: пишет один процесс, так исключаются SQLITE_BUSY
	// между горутинами.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema создаёт схему и фиксирует её версию.
func (s *SQLite) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range sqliteSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, sqliteSchemaVersion); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > sqliteSchemaVersion:
		return fmt.Errorf("db schema version %d is newer than supported %d", version, sqliteSchemaVersion)
	}

	return tx.Commit()
}

// Close закрывает соединение с БД.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- Spans ---

// AddSpan записывает span; повтор по ID игнорируется.
func (s *SQLite) AddSpan(ctx context.Context, span *domain.Span) error {
	meta, err := marshalMeta(span.Meta)
	if err != nil {
		return fmt.Errorf("marshal span meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spans (id, trace_id, action_id, step, parent, ts, summary, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		span.ID,
		span.TraceID,
		nullableText(span.ActionID),
		span.Step,
		nullableText(span.Parent),
		formatTime(span.Timestamp),
		span.Summary,
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert span: %w", err)
	}
	return nil
}

// GetSpan возвращает span с подмешанной записью завершения.
func (s *SQLite) GetSpan(ctx context.Context, id string) (*domain.Span, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.trace_id, s.action_id, s.step, s.parent, s.ts, s.summary, s.meta,
		       c.status, c.completed_at, c.result_summary, c.result
		FROM spans s
		LEFT JOIN span_completions c ON c.span_id = s.id
		WHERE s.id = ?`, id)
	span, err := scanSQLiteSpan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return span, err
}

// CompleteSpan пишет оверлей завершения; повтор игнорируется.
func (s *SQLite) CompleteSpan(ctx context.Context, spanID string, status domain.StepStatus, summary string, result map[string]any) error {
	res, err := marshalMeta(result)
	if err != nil {
		return fmt.Errorf("marshal span result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO span_completions (span_id, status, completed_at, result_summary, result)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(span_id) DO NOTHING`,
		spanID,
		string(status),
		formatTime(time.Now()),
		nullableText(summary),
		res,
	)
	if err != nil {
		return fmt.Errorf("complete span: %w", err)
	}
	return nil
}

// GetSpanTrace идёт по ссылкам parent от span'а к корню и возвращает
// цепочку, корень первым.
func (s *SQLite) GetSpanTrace(ctx context.Context, spanID string) ([]domain.Span, error) {
	var chain []domain.Span
	seen := make(map[string]bool)
	id := spanID
	for id != "" && !seen[id] {
		seen[id] = true
		span, err := s.GetSpan(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) && len(chain) > 0 {
				// Оборванная ссылка parent: возвращаем что собрали.
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

// ListSpansByTrace возвращает span'ы flow по времени создания.
func (s *SQLite) ListSpansByTrace(ctx context.Context, traceID string) ([]domain.Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.trace_id, s.action_id, s.step, s.parent, s.ts, s.summary, s.meta,
		       c.status, c.completed_at, c.result_summary, c.result
		FROM spans s
		LEFT JOIN span_completions c ON c.span_id = s.id
		WHERE s.trace_id = ?
		ORDER BY s.ts ASC, s.id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("list spans: %w", err)
	}
	defer rows.Close()

	var spans []domain.Span
	for rows.Next() {
		span, err := scanSQLiteSpan(rows.Scan)
		if err != nil {
			return nil, err
		}
		spans = append(spans, *span)
	}
	return spans, rows.Err()
}

// --- Actions ---

// AddAction записывает действие; повтор по ID игнорируется.
func (s *SQLite) AddAction(ctx context.Context, action *domain.Action) error {
	meta, err := marshalMeta(action.Meta)
	if err != nil {
		return fmt.Errorf("marshal action meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, trace_id, action, span_id, ts, meta, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		action.ID,
		action.TraceID,
		action.Action,
		action.SpanID,
		formatTime(action.Timestamp),
		meta,
		nullableText(action.Reasoning),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// GetAction возвращает действие по ID.
func (s *SQLite) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trace_id, action, span_id, ts, meta, reasoning
		FROM actions WHERE id = ?`, id)
	action, err := scanSQLiteAction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return action, err
}

// ListActionsByTrace возвращает действия flow по времени записи.
func (s *SQLite) ListActionsByTrace(ctx context.Context, traceID string) ([]domain.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trace_id, action, span_id, ts, meta, reasoning
		FROM actions
		WHERE trace_id = ?
		ORDER BY ts ASC, id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		action, err := scanSQLiteAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
	}
	return actions, rows.Err()
}

// --- Pending queue ---

// AddPending ставит запись в очередь; повтор по actionId игнорируется.
func (s *SQLite) AddPending(ctx context.Context, pending *domain.PendingAction) error {
	meta, err := marshalMeta(pending.Meta)
	if err != nil {
		return fmt.Errorf("marshal pending meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (action_id, trace_id, span_id, action, summary, created_at, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO NOTHING`,
		pending.ActionID,
		pending.TraceID,
		pending.SpanID,
		pending.Action,
		pending.Summary,
		formatTime(pending.CreatedAt),
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

// GetPending возвращает снапшот очереди.
func (s *SQLite) GetPending(ctx context.Context) ([]domain.PendingAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, trace_id, span_id, action, summary, created_at, meta
		FROM pending_actions
		ORDER BY created_at ASC, action_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var pendings []domain.PendingAction
	for rows.Next() {
		var p domain.PendingAction
		var createdAt string
		var meta sql.NullString
		if err := rows.Scan(&p.ActionID, &p.TraceID, &p.SpanID, &p.Action, &p.Summary, &createdAt, &meta); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		if err := unmarshalMeta(meta, &p.Meta); err != nil {
			return nil, err
		}
		pendings = append(pendings, p)
	}
	return pendings, rows.Err()
}

// RemovePending снимает запись с очереди; отсутствие записи не ошибка.
func (s *SQLite) RemovePending(ctx context.Context, actionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE action_id = ?`, actionID); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

// --- Task mappings ---

// PutTaskMapping записывает связку; первый запуск выигрывает.
func (s *SQLite) PutTaskMapping(ctx context.Context, m *domain.TaskMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_mappings (action_id, task_id, branch_name)
		VALUES (?, ?, ?)
		ON CONFLICT(action_id) DO NOTHING`,
		m.ActionID, m.TaskID, m.BranchName)
	if err != nil {
		return fmt.Errorf("insert task mapping: %w", err)
	}
	return nil
}

// GetTaskMapping возвращает связку или ErrNotFound.
func (s *SQLite) GetTaskMapping(ctx context.Context, actionID string) (*domain.TaskMapping, error) {
	var m domain.TaskMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT action_id, task_id, branch_name
		FROM task_mappings WHERE action_id = ?`, actionID).
		Scan(&m.ActionID, &m.TaskID, &m.BranchName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task mapping: %w", err)
	}
	return &m, nil
}

// --- Event dedup cursor ---

// IsEventProcessed проверяет, было ли внешнее событие уже обработано.
func (s *SQLite) IsEventProcessed(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE external_id = ?`, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return true, nil
}

// MarkEventsProcessed отмечает события обработанными; повторы игнорируются.
func (s *SQLite) MarkEventsProcessed(ctx context.Context, externalIDs []string) error {
	now := formatTime(time.Now())
	for _, id := range externalIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO processed_events (external_id, processed_at)
			VALUES (?, ?)
			ON CONFLICT(external_id) DO NOTHING`, id, now); err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
	}
	return nil
}

// --- Engine log ---

// AppendLog добавляет запись в плоский журнал.
func (s *SQLite) AppendLog(ctx context.Context, entry *domain.LogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_log (ts, step, trace_id, action_id, message)
		VALUES (?, ?, ?, ?, ?)`,
		formatTime(ts),
		entry.Step,
		nullableText(entry.TraceID),
		nullableText(entry.ActionID),
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLog возвращает последние limit записей по возрастанию id.
func (s *SQLite) ListLog(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, step, trace_id, action_id, message
		FROM engine_log
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var ts string
		var traceID, actionID sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Step, &traceID, &actionID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.TraceID = traceID.String
		e.ActionID = actionID.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseLog(entries)
	return entries, nil
}

// ListTraceIDs возвращает traceId всех известных flow: и с очередью,
// и уже завершённых.
func (s *SQLite) ListTraceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
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

// scanSQLiteSpan сканирует строку span + completion в domain.Span.
func scanSQLiteSpan(scan func(dest ...any) error) (*domain.Span, error) {
	var span domain.Span
	var actionID, parent, meta sql.NullString
	var ts string
	var cStatus, cAt, cSummary, cResult sql.NullString

	if err := scan(
		&span.ID, &span.TraceID, &actionID, &span.Step, &parent, &ts, &span.Summary, &meta,
		&cStatus, &cAt, &cSummary, &cResult,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan span: %w", err)
	}

	span.ActionID = actionID.String
	span.Parent = parent.String
	span.Timestamp = parseTime(ts)
	if err := unmarshalMeta(meta, &span.Meta); err != nil {
		return nil, err
	}

	if cStatus.Valid {
		span.Status = domain.StepStatus(cStatus.String)
		t := parseTime(cAt.String)
		span.CompletedAt = &t
		span.ResultSummary = cSummary.String
		if err := unmarshalMeta(cResult, &span.Result); err != nil {
			return nil, err
		}
	}
	return &span, nil
}

// scanSQLiteAction сканирует строку в domain.Action.
func scanSQLiteAction(scan func(dest ...any) error) (*domain.Action, error) {
	var action domain.Action
	var ts string
	var meta, reasoning sql.NullString
	if err := scan(&action.ID, &action.TraceID, &action.Action, &action.SpanID, &ts, &meta, &reasoning); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan action: %w", err)
	}
	action.Timestamp = parseTime(ts)
	action.Reasoning = reasoning.String
	if err := unmarshalMeta(meta, &action.Meta); err != nil {
		return nil, err
	}
	return &action, nil
}

// marshalMeta сериализует meta в JSON; nil для пустой карты.
func marshalMeta(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// unmarshalMeta разбирает JSON-колонку в карту.
func unmarshalMeta(col sql.NullString, dst *map[string]any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("unmarshal meta: %w", err)
	}
	return nil
}

// nullableText возвращает nil для пустой строки (NULL в БД).
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// formatTime сериализует время в RFC3339Nano (UTC), лексикографически
// сортируемый формат.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime разбирает время из БД; нулевое время при мусоре.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func reverseSpans(spans []domain.Span) {
	for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
		spans[i], spans[j] = spans[j], spans[i]
	}
}

func reverseLog(entries []domain.LogEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
