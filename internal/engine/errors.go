package engine

import "errors"

// Ошибки валидации определения workflow.
var (
	// ErrNoTasks — workflow не содержит задач.
	ErrNoTasks = errors.New("workflow has no tasks")

	// ErrEmptyTaskID — задача не имеет ID.
	ErrEmptyTaskID = errors.New("task has empty ID")

	// ErrDuplicateTaskID — несколько задач с одинаковым ID.
	ErrDuplicateTaskID = errors.New("duplicate task ID")

	// ErrDuplicateResultKey — несколько задач публикуют результат
	// под одним output_path.
	ErrDuplicateResultKey = errors.New("duplicate output path")

	// ErrUnknownTaskType — неизвестный тип задачи.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrMissingDependency — задача зависит от несуществующей задачи.
	ErrMissingDependency = errors.New("task depends on unknown task")

	// ErrSelfDependency — задача зависит от самой себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrInvalidConfig — невалидная конфигурация задачи.
	ErrInvalidConfig = errors.New("invalid task config")

	// ErrUnknownOutputRef — выражение ссылается на задачу,
	// которой нет в графе.
	ErrUnknownOutputRef = errors.New("expression references unknown task")
)

// Ошибки выполнения задач.
var (
	// ErrMissingCapability — не внедрена способность выполнения
	// (CommandRunner для shell, HTTPDoer для rest).
	ErrMissingCapability = errors.New("execution capability not provided")

	// ErrHTTPRequest — HTTP-запрос не удалось выполнить.
	ErrHTTPRequest = errors.New("http request failed")
)

// DefinitionError — ошибка валидации определения workflow.
//
// Возвращается из BuildGraph до начала любого выполнения:
// невалидный граф не запускается.
type DefinitionError struct {
	TaskID  string // ID задачи, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *DefinitionError) Error() string {
	if e.TaskID != "" {
		return "task " + e.TaskID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// NewDefinitionError создаёт новую ошибку валидации.
func NewDefinitionError(taskID, field, message string, err error) *DefinitionError {
	return &DefinitionError{
		TaskID:  taskID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
