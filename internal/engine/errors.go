package engine

import "errors"

// Ошибки валидации графа плана.
var (
	// ErrNoTasks — план не содержит задач.
	ErrNoTasks = errors.New("plan has no tasks")

	// ErrEmptyTitle — задача без заголовка.
	ErrEmptyTitle = errors.New("task has empty title")

	// ErrDuplicateTitle — несколько задач с одинаковым заголовком.
	// Заголовок — ключ разрешения зависимостей, дубликат делает
	// ссылки неоднозначными.
	ErrDuplicateTitle = errors.New("duplicate task title")

	// ErrSelfDependency — задача зависит от самой себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Task    string // заголовок задачи, где произошла ошибка
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

func (e *ValidationError) Error() string {
	if e.Task != "" {
		return "task " + e.Task + ": " + e.Message
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт ошибку валидации.
func NewValidationError(task, message string, err error) *ValidationError {
	return &ValidationError{
		Task:    task,
		Message: message,
		Err:     err,
	}
}
