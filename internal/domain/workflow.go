package domain

// Типы задач.
const (
	// TaskTypeShell — выполнение команды с аргументами.
	TaskTypeShell = "shell"

	// TaskTypeRest — HTTP-запрос к внешнему сервису.
	TaskTypeRest = "rest"
)

// WorkflowDef — определение рабочего процесса.
//
// WorkflowDef — это статический "рецепт": набор задач, их зависимости,
// условия выполнения и схема сборки итогового результата.
// Граф задач фиксируется при построении и не меняется во время run.
type WorkflowDef struct {
	// Name — уникальное имя workflow (например, "sync-orders").
	Name string `json:"name" yaml:"name"`

	// Version — номер версии определения.
	Version int `json:"version" yaml:"version"`

	// Tasks — список задач для выполнения.
	Tasks []TaskDef `json:"tasks" yaml:"tasks"`

	// Outputs — схема итогового результата workflow.
	// Ключ — имя поля результата, значение — выражение
	// ({{ workflow.input.x }}, {{ tasks.t1.output.y }} или литерал).
	Outputs map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// TaskDef — определение задачи внутри workflow.
type TaskDef struct {
	// ID — уникальный идентификатор задачи в рамках workflow.
	// Используется в depends_on и в выражениях.
	ID string `json:"id" yaml:"id"`

	// Type — тип задачи: "shell" или "rest".
	Type string `json:"type" yaml:"type"`

	// DependsOn — список ID задач, от которых зависит эта задача.
	// Задача начнёт выполнение только после COMPLETED всех зависимостей.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Condition — условие выполнения (выражение).
	// Ложное или неразрешимое условие → задача получает SKIPPED.
	// Отсутствие условия считается выполненным условием.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Config — конфигурация задачи (зависит от типа).
	// Для shell: command, args
	// Для rest: method, url, headers, body
	// Строковые значения могут содержать выражения.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// OutputPath — ключ, под которым результат задачи доступен
	// в выражениях. По умолчанию совпадает с ID.
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`

	// TimeoutSec — таймаут выполнения задачи в секундах.
	// 0 — без отдельного таймаута (действует только дедлайн run).
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
}

// ResultKey возвращает ключ, под которым результат задачи
// виден выражениям.
func (t *TaskDef) ResultKey() string {
	if t.OutputPath != "" {
		return t.OutputPath
	}
	return t.ID
}
