package domain

// StepStatus — статус шага внутри trace (и терминальный статус span).
//
// Жизненный цикл:
//
//	pending → running → completed
//	                  ↘ failed (шаг отработал, результат отрицательный)
//	                  ↘ error  (process() завершился ошибкой)
type StepStatus string

const (
	// StepStatusPending — действие в очереди либо ждёт внешнего события.
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning — действие передано шагу и обрабатывается.
	StepStatusRunning StepStatus = "running"

	// StepStatusCompleted — шаг успешно завершён.
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed — шаг зафиксировал неудачу. Сюда же попадает
	// запись, чей Process вернул ошибку или запаниковал.
	StepStatusFailed StepStatus = "failed"

	// StepStatusError — шаг явно сообщил о внутренней ошибке.
	StepStatusError StepStatus = "error"
)

// IsTerminal возвращает true, если статус финальный для попытки.
// Только терминальный результат снимает PendingAction с очереди.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusError:
		return true
	default:
		return false
	}
}

// DispatchStatus — состояние диспетчеризации одного типа шага
// внутри оркестратора.
//
// Жизненный цикл:
//
//	idle → processing → idle
//	                  ↘ error (хотя бы один process() в батче упал)
type DispatchStatus string

const (
	// DispatchIdle — для типа нет активного батча.
	DispatchIdle DispatchStatus = "idle"

	// DispatchProcessing — батч для типа отправлен и ещё не завершён.
	DispatchProcessing DispatchStatus = "processing"

	// DispatchError — последний батч завершился с ошибкой.
	DispatchError DispatchStatus = "error"
)
