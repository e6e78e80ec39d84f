package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/nmakarov/conveyor/internal/domain"
)

// Engine выполняет workflow по графу зависимостей.
//
// Engine не разделяется между выполнениями: состояние одного run
// живёт внутри вызова Run и отбрасывается после возврата результата.
type Engine struct {
	graph  *Graph
	caps   Capabilities
	eval   *Evaluator
	logger *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	// Graph — валидированный граф задач.
	Graph *Graph

	// Capabilities — способности выполнения (команды, HTTP).
	Capabilities Capabilities

	// Logger — логгер (default: slog.Default()).
	Logger *slog.Logger
}

// New создаёт Engine для выполнения одного workflow.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		graph:  cfg.Graph,
		caps:   cfg.Capabilities,
		eval:   NewEvaluator(logger),
		logger: logger,
	}
}

// Diagnostic — диагностический результат неуспешного run.
type Diagnostic struct {
	// Status — финальный статус run.
	Status string `json:"status"`

	// TaskStatuses — финальные статусы всех задач (taskID → статус).
	TaskStatuses map[string]domain.TaskStatus `json:"task_statuses"`
}

// RunResult — итог выполнения workflow.
//
// Результат тегирован статусом: при COMPLETED заполнен Output
// (собранный по схеме outputs), при FAILED — Diagnostic.
// Вызывающий ветвится по Succeeded(), а не угадывает по полям.
type RunResult struct {
	// Workflow — имя workflow, породившего результат.
	Workflow string `json:"workflow"`

	// Version — версия определения.
	Version int `json:"version"`

	// Status — финальный статус run.
	Status domain.RunStatus `json:"status"`

	// Output — итоговый результат (только при COMPLETED).
	Output map[string]any `json:"output,omitempty"`

	// Diagnostic — статусы задач (только при FAILED).
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`

	// TaskResults — полные результаты задач для истории выполнения.
	TaskResults map[string]domain.TaskResult `json:"-"`
}

// Succeeded возвращает true, если run завершился COMPLETED.
func (r *RunResult) Succeeded() bool {
	return r.Status == domain.RunStatusCompleted
}

// completion — результат одной задачи, пришедший из воркера волны.
type completion struct {
	id     string
	result domain.TaskResult
}

// Run выполняет workflow с данными input.
//
// Планирование волновое: каждая волна собирает готовые задачи
// (PENDING, все зависимости COMPLETED, условие истинно) и выполняет
// их параллельно. Задачи одной волны по построению не зависят друг
// от друга. Следующая волна начинается только после завершения всех
// задач текущей — пробуждение по каналу завершений, без таймеров.
//
// Граф ацикличен (проверено при построении), и каждая волна
// финализирует хотя бы одну задачу, поэтому цикл завершается
// не более чем за N волн для N задач.
func (e *Engine) Run(ctx context.Context, input map[string]any) RunResult {
	if input == nil {
		input = make(map[string]any)
	}

	started := time.Now()
	e.logger.Info("run started",
		"workflow", e.graph.Name,
		"version", e.graph.Version,
		"tasks", e.graph.Size(),
	)

	// Таблица результатов — единственное изменяемое состояние run.
	// Пишет в неё только координирующая горутина, ровно один раз
	// на задачу.
	results := make(map[string]domain.TaskResult, e.graph.Size())
	for id := range e.graph.Nodes {
		results[id] = domain.TaskResult{Status: domain.TaskStatusPending}
	}

	for {
		// Отмена run: новые задачи не запускаются, оставшиеся
		// финализируются, статус будет FAILED.
		if ctx.Err() != nil {
			e.logger.Warn("run cancelled",
				"workflow", e.graph.Name,
				"reason", ctx.Err(),
			)
			e.finalizeRemaining(results)
			break
		}

		ready := e.collectReady(input, results)
		if len(ready) == 0 {
			if !hasPending(results) {
				break
			}
			// Прогресс невозможен: у всех оставшихся PENDING задач
			// есть невыполнимая зависимость. Финализируем как SKIPPED,
			// чтобы гарантировать завершение.
			e.finalizeRemaining(results)
			break
		}

		e.dispatchWave(ctx, input, results, ready)
	}

	return e.assembleResult(input, results, started)
}

// collectReady собирает задачи, готовые к выполнению, и попутно
// финализирует те, которые выполняться уже не будут.
//
// Задача готова, если она PENDING, все зависимости COMPLETED
// и условие (если есть) истинно. Задача с упавшей или пропущенной
// зависимостью получает SKIPPED — так отказ распространяется вниз
// по графу без выполнения работы. Ложное условие при выполненных
// зависимостях тоже даёт SKIPPED без запуска.
func (e *Engine) collectReady(input map[string]any, results map[string]domain.TaskResult) []*Node {
	byKey := resultsByKey(e.graph, results)
	ready := make([]*Node, 0)

	for _, node := range e.graph.Order {
		if results[node.ID].Status != domain.TaskStatusPending {
			continue
		}

		blocked := false
		allCompleted := true
		for _, dep := range node.DependsOn {
			switch results[dep].Status {
			case domain.TaskStatusFailed, domain.TaskStatusSkipped:
				blocked = true
			case domain.TaskStatusCompleted:
			default:
				allCompleted = false
			}
		}

		if blocked {
			results[node.ID] = domain.NewSkippedResult()
			e.logger.Info("task skipped",
				"workflow", e.graph.Name,
				"task", node.ID,
				"reason", "upstream not completed",
			)
			continue
		}

		if !allCompleted {
			continue
		}

		if node.Condition != nil {
			value, ok := e.eval.Resolve(node.Condition, input, byKey)
			if !Truthy(value, ok) {
				results[node.ID] = domain.NewSkippedResult()
				e.logger.Info("task skipped",
					"workflow", e.graph.Name,
					"task", node.ID,
					"reason", "condition not met",
				)
				continue
			}
		}

		ready = append(ready, node)
	}

	return ready
}

// dispatchWave выполняет волну готовых задач параллельно
// и дожидается всех результатов.
func (e *Engine) dispatchWave(ctx context.Context, input map[string]any, results map[string]domain.TaskResult, ready []*Node) {
	// Снимок результатов делается до запуска волны: задачи читают
	// только то, что уже финализировано.
	snapshot := resultsByKey(e.graph, results)
	done := make(chan completion, len(ready))

	for _, node := range ready {
		results[node.ID] = domain.TaskResult{Status: domain.TaskStatusRunning}

		e.logger.Info("task started",
			"workflow", e.graph.Name,
			"task", node.ID,
			"type", node.Def.Type,
		)

		rc := &RunContext{
			Workflow: e.graph.Name,
			Version:  e.graph.Version,
			Input:    input,
			Caps:     e.caps,
			eval:     e.eval,
			results:  snapshot,
		}

		go func(n *Node) {
			taskCtx := ctx
			if n.Def.TimeoutSec > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(ctx, time.Duration(n.Def.TimeoutSec)*time.Second)
				defer cancel()
			}
			done <- completion{id: n.ID, result: n.Task.Run(taskCtx, rc)}
		}(node)
	}

	// Ждём завершения всей волны: зависимости следующих задач
	// должны быть COMPLETED до их запуска.
	for range ready {
		c := <-done
		results[c.id] = c.result

		switch c.result.Status {
		case domain.TaskStatusCompleted:
			e.logger.Info("task completed",
				"workflow", e.graph.Name,
				"task", c.id,
			)
		default:
			e.logger.Warn("task failed",
				"workflow", e.graph.Name,
				"task", c.id,
				"error", c.result.Error,
			)
		}
	}
}

// finalizeRemaining переводит оставшиеся PENDING задачи в SKIPPED.
func (e *Engine) finalizeRemaining(results map[string]domain.TaskResult) {
	for id, result := range results {
		if result.Status == domain.TaskStatusPending {
			results[id] = domain.NewSkippedResult()
		}
	}
}

// assembleResult собирает итог run.
//
// COMPLETED — только если каждая задача COMPLETED; тогда итоговый
// результат вычисляется по схеме outputs. Иначе FAILED
// с диагностикой per-task статусов.
func (e *Engine) assembleResult(input map[string]any, results map[string]domain.TaskResult, started time.Time) RunResult {
	allCompleted := true
	for _, result := range results {
		if result.Status != domain.TaskStatusCompleted {
			allCompleted = false
			break
		}
	}

	runResult := RunResult{
		Workflow:    e.graph.Name,
		Version:     e.graph.Version,
		TaskResults: results,
	}

	if allCompleted {
		runResult.Status = domain.RunStatusCompleted
		runResult.Output = e.assembleOutput(input, results)
	} else {
		runResult.Status = domain.RunStatusFailed
		statuses := make(map[string]domain.TaskStatus, len(results))
		for id, result := range results {
			statuses[id] = result.Status
		}
		runResult.Diagnostic = &Diagnostic{
			Status:       string(domain.RunStatusFailed),
			TaskStatuses: statuses,
		}
	}

	e.logger.Info("run finished",
		"workflow", e.graph.Name,
		"version", e.graph.Version,
		"status", runResult.Status,
		"duration", time.Since(started),
	)

	return runResult
}

// assembleOutput вычисляет схему outputs против финальных результатов.
// Неразрешимое поле не попадает в итог и отмечается в логе.
func (e *Engine) assembleOutput(input map[string]any, results map[string]domain.TaskResult) map[string]any {
	byKey := resultsByKey(e.graph, results)
	output := make(map[string]any, len(e.graph.Outputs))

	for field, expr := range e.graph.Outputs {
		value, ok := e.eval.Resolve(expr, input, byKey)
		if !ok {
			e.logger.Warn("output field did not resolve",
				"workflow", e.graph.Name,
				"field", field,
			)
			continue
		}
		output[field] = value
	}

	return output
}

// resultsByKey перекладывает финализированные результаты под ключи,
// видимые выражениям (output_path задачи).
func resultsByKey(graph *Graph, results map[string]domain.TaskResult) map[string]domain.TaskResult {
	byKey := make(map[string]domain.TaskResult, len(results))
	for id, result := range results {
		if !result.Status.IsTerminal() {
			continue
		}
		byKey[graph.Nodes[id].ResultKey] = result
	}
	return byKey
}

// hasPending проверяет, остались ли незавершённые задачи.
func hasPending(results map[string]domain.TaskResult) bool {
	for _, result := range results {
		if result.Status == domain.TaskStatusPending {
			return true
		}
	}
	return false
}
