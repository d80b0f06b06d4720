package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrAlreadyStarted — Start вызван для уже запущенного оркестратора.
	ErrAlreadyStarted = errors.New("orchestrator already started")

	// ErrStopped — оркестратор остановлен.
	ErrStopped = errors.New("orchestrator stopped")

	// ErrTraceNotFound — trace не найден в проекции.
	ErrTraceNotFound = errors.New("trace not found")
)
