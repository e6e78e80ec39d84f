package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nmakarov/conveyor/internal/domain"
)

// scriptedRunner — CommandRunner с заготовленными результатами
// по имени команды. Запоминает порядок запусков.
type scriptedRunner struct {
	mu      sync.Mutex
	outputs map[string]CommandOutput
	order   []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{outputs: make(map[string]CommandOutput)}
}

func (r *scriptedRunner) script(command string, out CommandOutput) {
	r.outputs[command] = out
}

func (r *scriptedRunner) Run(ctx context.Context, command string, args []string) (CommandOutput, error) {
	r.mu.Lock()
	r.order = append(r.order, command)
	out, ok := r.outputs[command]
	r.mu.Unlock()

	if !ok {
		out = CommandOutput{ExitCode: 0}
	}
	return out, ctx.Err()
}

func (r *scriptedRunner) started(command string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.order {
		if c == command {
			return true
		}
	}
	return false
}

func (r *scriptedRunner) position(command string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.order {
		if c == command {
			return i
		}
	}
	return -1
}

func buildTestEngine(t *testing.T, def *domain.WorkflowDef, runner CommandRunner) *Engine {
	t.Helper()

	graph, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	return New(Config{
		Graph:        graph,
		Capabilities: Capabilities{Commands: runner},
	})
}

// shellTask — определение shell-задачи с собственной командой.
func shellTask(id, command string, deps ...string) domain.TaskDef {
	return domain.TaskDef{
		ID:        id,
		Type:      domain.TaskTypeShell,
		DependsOn: deps,
		Config:    map[string]any{"command": command},
	}
}

func TestEngineRun_SingleTask(t *testing.T) {
	// Одна задача без зависимостей и условий: команда успешна,
	// итог собирается из её stdout.
	runner := newScriptedRunner()
	runner.script("greet", CommandOutput{Stdout: "hello world", ExitCode: 0})

	def := &domain.WorkflowDef{
		Name:    "single",
		Version: 1,
		Tasks:   []domain.TaskDef{shellTask("t1", "greet")},
		Outputs: map[string]string{
			"message": "{{ tasks.t1.output.stdout }}",
		},
	}

	result := buildTestEngine(t, def, runner).Run(context.Background(), nil)

	if !result.Succeeded() {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}
	if result.TaskResults["t1"].Status != domain.TaskStatusCompleted {
		t.Errorf("t1 should be COMPLETED, got %s", result.TaskResults["t1"].Status)
	}
	if result.Output["message"] != "hello world" {
		t.Errorf("output should be assembled from stdout, got %v", result.Output)
	}
	if result.Diagnostic != nil {
		t.Error("successful run must not carry a diagnostic")
	}
}

func TestEngineRun_FailurePropagation(t *testing.T) {
	// t2 зависит от t1; t1 падает → t1 FAILED, t2 SKIPPED, run FAILED.
	runner := newScriptedRunner()
	runner.script("broken", CommandOutput{Stderr: "boom", ExitCode: 1})

	def := &domain.WorkflowDef{
		Name: "propagate",
		Tasks: []domain.TaskDef{
			shellTask("t1", "broken"),
			shellTask("t2", "next", "t1"),
		},
	}

	result := buildTestEngine(t, def, runner).Run(context.Background(), nil)

	if result.Succeeded() {
		t.Fatal("run should be FAILED")
	}
	if result.TaskResults["t1"].Status != domain.TaskStatusFailed {
		t.Errorf("t1 should be FAILED, got %s", result.TaskResults["t1"].Status)
	}
	if result.TaskResults["t2"].Status != domain.TaskStatusSkipped {
		t.Errorf("t2 should be SKIPPED, got %s", result.TaskResults["t2"].Status)
	}
	if runner.started("next") {
		t.Error("t2 must never execute when its dependency failed")
	}

	// Диагностика — тегированный ответ с per-task статусами.
	if result.Output != nil {
		t.Error("failed run must not carry an output")
	}
	if result.Diagnostic == nil {
		t.Fatal("failed run must carry a diagnostic")
	}
	if result.Diagnostic.TaskStatuses["t2"] != domain.TaskStatusSkipped {
		t.Errorf("diagnostic should list t2 as SKIPPED, got %s", result.Diagnostic.TaskStatuses["t2"])
	}
}

func TestEngineRun_ConditionFalse(t *testing.T) {
	// Условие t2 ссылается на входной флаг со значением false:
	// t2 получает SKIPPED без запуска.
	runner := newScriptedRunner()

	def := &domain.WorkflowDef{
		Name: "guarded",
		Tasks: []domain.TaskDef{
			shellTask("t1", "first"),
			{
				ID:        "t2",
				Type:      domain.TaskTypeShell,
				DependsOn: []string{"t1"},
				Condition: "{{ workflow.input.flag }}",
				Config:    map[string]any{"command": "second"},
			},
		},
	}

	input := map[string]any{"flag": false}
	result := buildTestEngine(t, def, runner).Run(context.Background(), input)

	if result.TaskResults["t1"].Status != domain.TaskStatusCompleted {
		t.Errorf("t1 should be COMPLETED, got %s", result.TaskResults["t1"].Status)
	}
	if result.TaskResults["t2"].Status != domain.TaskStatusSkipped {
		t.Errorf("t2 should be SKIPPED, got %s", result.TaskResults["t2"].Status)
	}
	if runner.started("second") {
		t.Error("guarded task must not execute when its condition is false")
	}
}

func TestEngineRun_ConditionAbsent(t *testing.T) {
	// Неразрешимое условие эквивалентно ложному: SKIPPED без запуска.
	runner := newScriptedRunner()

	def := &domain.WorkflowDef{
		Name: "absent-guard",
		Tasks: []domain.TaskDef{
			{
				ID:        "t1",
				Type:      domain.TaskTypeShell,
				Condition: "{{ workflow.input.missing }}",
				Config:    map[string]any{"command": "only"},
			},
		},
	}

	result := buildTestEngine(t, def, runner).Run(context.Background(), map[string]any{})

	if result.TaskResults["t1"].Status != domain.TaskStatusSkipped {
		t.Errorf("t1 should be SKIPPED, got %s", result.TaskResults["t1"].Status)
	}
	if runner.started("only") {
		t.Error("task must not execute on an absent condition")
	}
}

func TestEngineRun_Diamond(t *testing.T) {
	// t1 → t2, t1 → t3, t2&t3 → t4: t4 запускается строго
	// после завершения t2 и t3.
	runner := newScriptedRunner()

	def := &domain.WorkflowDef{
		Name: "diamond",
		Tasks: []domain.TaskDef{
			shellTask("t1", "c1"),
			shellTask("t2", "c2", "t1"),
			shellTask("t3", "c3", "t1"),
			shellTask("t4", "c4", "t2", "t3"),
		},
	}

	result := buildTestEngine(t, def, runner).Run(context.Background(), nil)

	if !result.Succeeded() {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		if result.TaskResults[id].Status != domain.TaskStatusCompleted {
			t.Errorf("%s should be COMPLETED, got %s", id, result.TaskResults[id].Status)
		}
	}

	p4 := runner.position("c4")
	if p4 < runner.position("c2") || p4 < runner.position("c3") {
		t.Errorf("t4 must start after both t2 and t3, order: %v", runner.order)
	}
	if runner.position("c1") != 0 {
		t.Errorf("t1 must start first, order: %v", runner.order)
	}
}

// barrierRunner — доказывает, что задачи одной волны выполняются
// параллельно: обе команды должны встретиться на рандеву,
// последовательное выполнение привело бы к таймауту.
type barrierRunner struct {
	rendezvous chan struct{}
}

func (r *barrierRunner) Run(ctx context.Context, command string, _ []string) (CommandOutput, error) {
	select {
	case r.rendezvous <- struct{}{}:
	case <-r.rendezvous:
	case <-time.After(2 * time.Second):
		return CommandOutput{ExitCode: 1, Stderr: "rendezvous timeout"}, nil
	}
	return CommandOutput{ExitCode: 0}, nil
}

func TestEngineRun_WaveIsConcurrent(t *testing.T) {
	runner := &barrierRunner{rendezvous: make(chan struct{})}

	def := &domain.WorkflowDef{
		Name: "parallel-wave",
		Tasks: []domain.TaskDef{
			shellTask("left", "left"),
			shellTask("right", "right"),
		},
	}

	result := buildTestEngine(t, def, runner).Run(context.Background(), nil)

	if !result.Succeeded() {
		t.Fatalf("independent tasks must run concurrently, got %s", result.Status)
	}
}

func TestEngineRun_Cancellation(t *testing.T) {
	runner := newScriptedRunner()

	def := &domain.WorkflowDef{
		Name: "cancelled",
		Tasks: []domain.TaskDef{
			shellTask("t1", "c1"),
			shellTask("t2", "c2", "t1"),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := buildTestEngine(t, def, runner).Run(ctx, nil)

	if result.Succeeded() {
		t.Fatal("cancelled run must settle as FAILED")
	}
	if runner.started("c1") || runner.started("c2") {
		t.Error("no task should be dispatched after cancellation")
	}
	for id, tr := range result.TaskResults {
		if !tr.Status.IsTerminal() {
			t.Errorf("%s should be finalized, got %s", id, tr.Status)
		}
	}
}

func TestEngineRun_TaskTimeout(t *testing.T) {
	// Задача с таймаутом 1с на блокирующей команде: FAILED,
	// зависимая задача — SKIPPED.
	blocking := commandRunnerFunc(func(ctx context.Context, _ string, _ []string) (CommandOutput, error) {
		<-ctx.Done()
		return CommandOutput{}, ctx.Err()
	})

	def := &domain.WorkflowDef{
		Name: "deadline",
		Tasks: []domain.TaskDef{
			{
				ID:         "slow",
				Type:       domain.TaskTypeShell,
				TimeoutSec: 1,
				Config:     map[string]any{"command": "hang"},
			},
			shellTask("after", "next", "slow"),
		},
	}

	result := buildTestEngine(t, def, blocking).Run(context.Background(), nil)

	if result.TaskResults["slow"].Status != domain.TaskStatusFailed {
		t.Errorf("slow should be FAILED on timeout, got %s", result.TaskResults["slow"].Status)
	}
	if result.TaskResults["after"].Status != domain.TaskStatusSkipped {
		t.Errorf("after should be SKIPPED, got %s", result.TaskResults["after"].Status)
	}
}

// commandRunnerFunc — адаптер функции к CommandRunner.
type commandRunnerFunc func(ctx context.Context, command string, args []string) (CommandOutput, error)

func (f commandRunnerFunc) Run(ctx context.Context, command string, args []string) (CommandOutput, error) {
	return f(ctx, command, args)
}

func TestEngineRun_StatusRule(t *testing.T) {
	// COMPLETED тогда и только тогда, когда каждая задача COMPLETED:
	// SKIPPED тоже делает run FAILED.
	runner := newScriptedRunner()

	def := &domain.WorkflowDef{
		Name: "status-rule",
		Tasks: []domain.TaskDef{
			shellTask("ok", "fine"),
			{
				ID:        "skipped",
				Type:      domain.TaskTypeShell,
				Condition: "{{ workflow.input.never }}",
				Config:    map[string]any{"command": "other"},
			},
		},
	}

	result := buildTestEngine(t, def, runner).Run(context.Background(), map[string]any{})

	if result.Succeeded() {
		t.Fatal("run with a SKIPPED task must be FAILED")
	}
	if result.TaskResults["ok"].Status != domain.TaskStatusCompleted {
		t.Errorf("ok should be COMPLETED, got %s", result.TaskResults["ok"].Status)
	}
}

func TestEngineRun_OutputAssembly(t *testing.T) {
	runner := newScriptedRunner()
	runner.script("produce", CommandOutput{Stdout: "42", ExitCode: 0})

	def := &domain.WorkflowDef{
		Name:    "outputs",
		Version: 3,
		Tasks:   []domain.TaskDef{shellTask("calc", "produce")},
		Outputs: map[string]string{
			"answer":  "{{ tasks.calc.output.stdout }}",
			"caller":  "{{ workflow.input.caller }}",
			"static":  "constant",
			"missing": "{{ workflow.input.nothing }}",
		},
	}

	result := buildTestEngine(t, def, runner).Run(context.Background(), map[string]any{"caller": "cli"})

	if !result.Succeeded() {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}
	if result.Workflow != "outputs" || result.Version != 3 {
		t.Errorf("result should carry workflow identity, got %s v%d", result.Workflow, result.Version)
	}
	if result.Output["answer"] != "42" {
		t.Errorf("answer should come from task output, got %v", result.Output["answer"])
	}
	if result.Output["caller"] != "cli" {
		t.Errorf("caller should come from input, got %v", result.Output["caller"])
	}
	if result.Output["static"] != "constant" {
		t.Errorf("literal should pass through, got %v", result.Output["static"])
	}
	if _, exists := result.Output["missing"]; exists {
		t.Error("unresolvable output field should be omitted")
	}
}

func TestEngineRun_TerminatesOnChain(t *testing.T) {
	// Длинная цепочка: завершение за конечное число волн.
	runner := newScriptedRunner()

	tasks := []domain.TaskDef{shellTask("t0", "c0")}
	for i := 1; i < 20; i++ {
		tasks = append(tasks, shellTask(
			"t"+string(rune('0'+i/10))+string(rune('0'+i%10)),
			"c",
			tasks[i-1].ID,
		))
	}

	def := &domain.WorkflowDef{Name: "long-chain", Tasks: tasks}
	eng := buildTestEngine(t, def, runner)

	done := make(chan RunResult, 1)
	go func() {
		done <- eng.Run(context.Background(), nil)
	}()

	select {
	case result := <-done:
		if !result.Succeeded() {
			t.Errorf("expected COMPLETED, got %s", result.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
	}
}
