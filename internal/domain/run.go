package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — запись об одном выполнении workflow.
//
// Run создаётся когда:
// - Пользователь запускает workflow вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
//
// Сам движок хранит состояние выполнения в памяти; Run — это
// история выполнения для API и отчётности.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// WorkflowName — имя workflow, который выполнялся.
	WorkflowName string `json:"workflow_name"`

	// WorkflowVersion — версия определения workflow.
	WorkflowVersion int `json:"workflow_version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Input — входные данные, переданные при запуске.
	Input map[string]any `json:"input,omitempty"`

	// Output — итоговый результат, собранный по схеме outputs.
	// Заполняется только при COMPLETED.
	Output map[string]any `json:"output,omitempty"`

	// Error — текст ошибки, если run завершился FAILED.
	Error string `json:"error,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения. Nil, если run ещё выполняется.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkCompleted переводит run в статус COMPLETED с итоговым результатом.
func (r *Run) MarkCompleted(output map[string]any) {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.FinishedAt = &now
	r.Output = output
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// TaskRecord — сохранённый результат одной задачи внутри run.
//
// Используется для истории выполнения: API отдаёт per-task статусы,
// по которым видно, где именно run упал или что было пропущено.
type TaskRecord struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// TaskID — ID задачи из WorkflowDef.
	TaskID string `json:"task_id"`

	// Type — тип задачи: "shell" или "rest".
	Type string `json:"type"`

	// Status — финальный статус задачи.
	Status TaskStatus `json:"status"`

	// Output — выходные данные (только при COMPLETED).
	Output map[string]any `json:"output,omitempty"`

	// Error — текст ошибки (только при FAILED).
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskRecord создаёт запись из результата выполнения задачи.
func NewTaskRecord(runID uuid.UUID, taskID, taskType string, result TaskResult) TaskRecord {
	return TaskRecord{
		ID:        uuid.New(),
		RunID:     runID,
		TaskID:    taskID,
		Type:      taskType,
		Status:    result.Status,
		Output:    result.Output,
		Error:     result.Error,
		CreatedAt: time.Now(),
	}
}
