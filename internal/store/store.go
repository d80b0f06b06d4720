package store

import (
	"context"
	"fmt"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// Драйверы хранилища.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store — долговечное хранилище движка: span'ы, журнал действий,
// очередь pending, связки задач, курсор дедупликации событий и плоский
// журнал. Только доступ к данным, без логики планирования.
//
// Семантика отказов: каждая запись — отдельная единица атомарности
// (одна строка на id), поэтому сбой посреди записи может потерять
// только записываемую запись, но не ранее записанные.
type Store interface {
	// AddSpan записывает новый span. Повторная запись с тем же ID
	// игнорируется (идемпотентность для at-least-once обработки).
	AddSpan(ctx context.Context, span *domain.Span) error

	// GetSpan возвращает span по ID вместе с записью завершения.
	GetSpan(ctx context.Context, id string) (*domain.Span, error)

	// CompleteSpan записывает терминальный оверлей span'а. Сам span не
	// мутируется; повторное завершение игнорируется.
	CompleteSpan(ctx context.Context, spanID string, status domain.StepStatus, summary string, result map[string]any) error

	// GetSpanTrace возвращает span и всех его предков, корень первым,
	// проходя по ссылкам parent.
	GetSpanTrace(ctx context.Context, spanID string) ([]domain.Span, error)

	// ListSpansByTrace возвращает все span'ы flow по времени создания.
	ListSpansByTrace(ctx context.Context, traceID string) ([]domain.Span, error)

	// AddAction записывает действие. Повтор с тем же ID игнорируется.
	AddAction(ctx context.Context, action *domain.Action) error

	// GetAction возвращает действие по ID.
	GetAction(ctx context.Context, id string) (*domain.Action, error)

	// ListActionsByTrace возвращает действия flow по времени записи.
	ListActionsByTrace(ctx context.Context, traceID string) ([]domain.Action, error)

	// AddPending ставит запись в очередь. Повторный вызов с тем же
	// actionId не создаёт дубликата, видимого через GetPending.
	AddPending(ctx context.Context, pending *domain.PendingAction) error

	// GetPending возвращает снапшот всех неразрешённых записей.
	// Порядок вставки не гарантируется; FIFO между типами нет.
	GetPending(ctx context.Context) ([]domain.PendingAction, error)

	// RemovePending снимает запись с очереди. Идемпотентна: удаление
	// несуществующего actionId не ошибка.
	RemovePending(ctx context.Context, actionID string) error

	// PutTaskMapping записывает связку actionId → задача. Повторная
	// запись для того же actionId игнорируется (первый запуск
	// выигрывает).
	PutTaskMapping(ctx context.Context, m *domain.TaskMapping) error

	// GetTaskMapping возвращает связку или ErrNotFound.
	GetTaskMapping(ctx context.Context, actionID string) (*domain.TaskMapping, error)

	// IsEventProcessed проверяет курсор дедупликации событий.
	IsEventProcessed(ctx context.Context, externalID string) (bool, error)

	// MarkEventsProcessed отмечает внешние события обработанными.
	MarkEventsProcessed(ctx context.Context, externalIDs []string) error

	// AppendLog добавляет запись в плоский append-only журнал.
	AppendLog(ctx context.Context, entry *domain.LogEntry) error

	// ListLog возвращает последние limit записей журнала по возрастанию.
	ListLog(ctx context.Context, limit int) ([]domain.LogEntry, error)

	// ListTraceIDs возвращает traceId всех известных flow. Используется
	// оркестратором для восстановления trace после рестарта.
	ListTraceIDs(ctx context.Context) ([]string, error)

	// Close освобождает ресурсы хранилища.
	Close() error
}

// Config — параметры открытия хранилища.
type Config struct {
	// Driver — "sqlite" (по умолчанию) или "postgres".
	Driver string

	// DSN — строка подключения. Для sqlite пустой DSN означает файл
	// в каталоге Workspace.
	DSN string

	// Workspace — корень рабочего пространства; состояние движка живёт
	// в <workspace>/.autopilot.
	Workspace string
}

// Open открывает хранилище по конфигурации.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, cfg)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
