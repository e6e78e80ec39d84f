package domain

// RunStatus — статус выполнения workflow.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCompleted — все задачи завершились со статусом COMPLETED.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — хотя бы одна задача завершилась FAILED или SKIPPED.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// TaskStatus — статус выполнения отдельной задачи.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	        ↘ SKIPPED (условие не выполнено или упала зависимость)
//
// Статус не регрессирует: из терминального состояния выхода нет.
type TaskStatus string

const (
	// TaskStatusPending — задача ожидает выполнения.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — задача выполняется.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusCompleted — задача успешно завершена.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — задача завершилась с ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped — задача не выполнялась: условие ложно
	// или одна из зависимостей не достигла COMPLETED.
	TaskStatusSkipped TaskStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// TaskResult — результат выполнения одной задачи.
//
// Инвариант: Output заполнен только при COMPLETED,
// Error — только при FAILED. После записи не изменяется.
type TaskResult struct {
	// Status — финальный (или текущий) статус задачи.
	Status TaskStatus `json:"status"`

	// Output — выходные данные задачи. Доступны следующим задачам
	// через выражения {{ tasks.<id>.output.<field> }}.
	Output map[string]any `json:"output,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`
}

// NewCompletedResult создаёт результат успешного выполнения.
func NewCompletedResult(output map[string]any) TaskResult {
	if output == nil {
		output = make(map[string]any)
	}
	return TaskResult{Status: TaskStatusCompleted, Output: output}
}

// NewFailedResult создаёт результат с ошибкой.
func NewFailedResult(err string) TaskResult {
	return TaskResult{Status: TaskStatusFailed, Error: err}
}

// NewSkippedResult создаёт результат пропущенной задачи.
func NewSkippedResult() TaskResult {
	return TaskResult{Status: TaskStatusSkipped}
}
