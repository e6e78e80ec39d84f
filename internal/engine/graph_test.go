package engine

import (
	"errors"
	"testing"

	"github.com/nmakarov/conveyor/internal/domain"
)

// shellDef — задача "true" без вывода, для тестов структуры графа.
func shellDef(id string, deps ...string) domain.TaskDef {
	return domain.TaskDef{
		ID:        id,
		Type:      domain.TaskTypeShell,
		DependsOn: deps,
		Config:    map[string]any{"command": "true"},
	}
}

func TestBuildGraph_SimpleChain(t *testing.T) {
	def := &domain.WorkflowDef{
		Name:    "chain",
		Version: 1,
		Tasks: []domain.TaskDef{
			shellDef("a"),
			shellDef("b", "a"),
			shellDef("c", "b"),
		},
	}

	graph, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if graph.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", graph.Size())
	}

	// Топологический порядок: a перед b, b перед c.
	pos := make(map[string]int, len(graph.Order))
	for i, node := range graph.Order {
		pos[node.ID] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("order should respect dependencies, got %v", pos)
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	// a → b → d
	// a → c → d
	def := &domain.WorkflowDef{
		Name: "diamond",
		Tasks: []domain.TaskDef{
			shellDef("a"),
			shellDef("b", "a"),
			shellDef("c", "a"),
			shellDef("d", "b", "c"),
		},
	}

	graph, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nodeD := graph.Nodes["d"]
	if len(nodeD.DependsOn) != 2 {
		t.Errorf("node d should have 2 dependencies, got %d", len(nodeD.DependsOn))
	}

	nodeA := graph.Nodes["a"]
	if len(nodeA.Dependents) != 2 {
		t.Errorf("node a should have 2 dependents, got %d", len(nodeA.Dependents))
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	// a → b → a: цикл должен быть отклонён до выполнения.
	def := &domain.WorkflowDef{
		Name: "cyclic",
		Tasks: []domain.TaskDef{
			shellDef("a", "b"),
			shellDef("b", "a"),
		},
	}

	graph, err := BuildGraph(def)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
	if graph != nil {
		t.Error("no partial graph should be returned on failure")
	}
}

func TestBuildGraph_MissingDependency(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "broken",
		Tasks: []domain.TaskDef{
			shellDef("a", "ghost"),
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}

func TestBuildGraph_SelfDependency(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "selfish",
		Tasks: []domain.TaskDef{
			shellDef("a", "a"),
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestBuildGraph_DuplicateID(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "dup",
		Tasks: []domain.TaskDef{
			shellDef("a"),
			shellDef("a"),
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrDuplicateTaskID) {
		t.Errorf("expected ErrDuplicateTaskID, got %v", err)
	}
}

func TestBuildGraph_UnknownType(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "unknown",
		Tasks: []domain.TaskDef{
			{ID: "a", Type: "ftp", Config: map[string]any{}},
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("expected ErrUnknownTaskType, got %v", err)
	}

	var defErr *DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatal("expected DefinitionError")
	}
	if defErr.TaskID != "a" {
		t.Errorf("error should name the task, got %q", defErr.TaskID)
	}
}

func TestBuildGraph_EmptyWorkflow(t *testing.T) {
	_, err := BuildGraph(&domain.WorkflowDef{Name: "empty"})
	if !errors.Is(err, ErrNoTasks) {
		t.Errorf("expected ErrNoTasks, got %v", err)
	}

	_, err = BuildGraph(nil)
	if !errors.Is(err, ErrNoTasks) {
		t.Errorf("expected ErrNoTasks for nil def, got %v", err)
	}
}

func TestBuildGraph_ShellRequiresCommand(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "no-command",
		Tasks: []domain.TaskDef{
			{ID: "a", Type: domain.TaskTypeShell, Config: map[string]any{}},
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuildGraph_RestRequiresURL(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "no-url",
		Tasks: []domain.TaskDef{
			{ID: "a", Type: domain.TaskTypeRest, Config: map[string]any{"method": "GET"}},
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBuildGraph_UnknownOutputRef(t *testing.T) {
	// Схема outputs ссылается на задачу, которой нет в графе.
	def := &domain.WorkflowDef{
		Name: "bad-outputs",
		Tasks: []domain.TaskDef{
			shellDef("a"),
		},
		Outputs: map[string]string{
			"result": "{{ tasks.ghost.output.stdout }}",
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrUnknownOutputRef) {
		t.Errorf("expected ErrUnknownOutputRef, got %v", err)
	}
}

func TestBuildGraph_ConditionRefValidated(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "bad-condition",
		Tasks: []domain.TaskDef{
			shellDef("a"),
			{
				ID:        "b",
				Type:      domain.TaskTypeShell,
				DependsOn: []string{"a"},
				Condition: "{{ tasks.ghost.output.ok }}",
				Config:    map[string]any{"command": "true"},
			},
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrUnknownOutputRef) {
		t.Errorf("expected ErrUnknownOutputRef, got %v", err)
	}
}

func TestBuildGraph_OutputPath(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "keys",
		Tasks: []domain.TaskDef{
			{ID: "a", Type: domain.TaskTypeShell, OutputPath: "first", Config: map[string]any{"command": "true"}},
			shellDef("b"),
		},
	}

	graph, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if graph.Nodes["a"].ResultKey != "first" {
		t.Errorf("explicit output_path should win, got %s", graph.Nodes["a"].ResultKey)
	}
	if graph.Nodes["b"].ResultKey != "b" {
		t.Errorf("output_path should default to task ID, got %s", graph.Nodes["b"].ResultKey)
	}
}

func TestBuildGraph_DuplicateOutputPath(t *testing.T) {
	def := &domain.WorkflowDef{
		Name: "collide",
		Tasks: []domain.TaskDef{
			{ID: "a", Type: domain.TaskTypeShell, OutputPath: "same", Config: map[string]any{"command": "true"}},
			{ID: "b", Type: domain.TaskTypeShell, OutputPath: "same", Config: map[string]any{"command": "true"}},
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrDuplicateResultKey) {
		t.Errorf("expected ErrDuplicateResultKey, got %v", err)
	}
}
