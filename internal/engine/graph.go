package engine

import (
	"fmt"

	"github.com/nmakarov/conveyor/internal/domain"
)

// Node — задача внутри построенного графа.
type Node struct {
	// Def — определение задачи из WorkflowDef.
	Def *domain.TaskDef

	// ID — идентификатор задачи.
	ID string

	// ResultKey — ключ, под которым результат задачи виден выражениям.
	ResultKey string

	// DependsOn — ID задач-зависимостей.
	DependsOn []string

	// Dependents — ID задач, зависящих от этой.
	Dependents []string

	// Condition — скомпилированное условие выполнения (nil — без условия).
	Condition *Expr

	// Task — скомпилированный вариант задачи (shell или rest).
	Task Task

	// refs — все выражения задачи, для статической проверки ссылок.
	refs []*Expr
}

// Graph — валидированный граф задач workflow.
//
// Строится один раз из WorkflowDef и далее только читается.
// Инварианты: все depends_on разрешаются внутри графа,
// зависимости ацикличны, все выражения разобраны.
type Graph struct {
	// Name — имя workflow.
	Name string

	// Version — версия определения.
	Version int

	// Nodes — все задачи графа (taskID → Node).
	Nodes map[string]*Node

	// Order — топологически отсортированный список задач.
	Order []*Node

	// Outputs — скомпилированная схема итогового результата.
	Outputs map[string]*Expr
}

// Size возвращает количество задач в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// BuildGraph строит и валидирует граф задач из определения.
//
// Ошибки валидации (DefinitionError): пустой или дублирующийся ID,
// неизвестный тип задачи, зависимость на несуществующую задачу,
// цикл в зависимостях, невалидная конфигурация, ссылка на
// несуществующую задачу в выражении. Частичный граф при ошибке
// не возвращается — невалидное определение не выполняется.
func BuildGraph(def *domain.WorkflowDef) (*Graph, error) {
	if def == nil || len(def.Tasks) == 0 {
		return nil, NewDefinitionError("", "tasks", "workflow has no tasks", ErrNoTasks)
	}

	graph := &Graph{
		Name:    def.Name,
		Version: def.Version,
		Nodes:   make(map[string]*Node, len(def.Tasks)),
		Outputs: make(map[string]*Expr, len(def.Outputs)),
	}

	resultKeys := make(map[string]bool, len(def.Tasks))

	// Первый проход: валидация задач и компиляция вариантов.
	for i := range def.Tasks {
		taskDef := &def.Tasks[i]

		node, err := buildNode(taskDef, graph.Nodes, resultKeys)
		if err != nil {
			return nil, err
		}
		graph.Nodes[node.ID] = node
	}

	// Второй проход: проверка зависимостей.
	for _, node := range graph.Nodes {
		for _, dep := range node.DependsOn {
			depNode, exists := graph.Nodes[dep]
			if !exists {
				return nil, NewDefinitionError(node.ID, "depends_on",
					fmt.Sprintf("depends on unknown task: %s", dep), ErrMissingDependency)
			}
			depNode.Dependents = append(depNode.Dependents, node.ID)
		}
	}

	// Топологическая сортировка: проверка на циклы обязательна,
	// иначе цикл планирования не завершится.
	order, err := topologicalSort(graph.Nodes)
	if err != nil {
		return nil, err
	}
	graph.Order = order

	// Схема итогового результата.
	for field, raw := range def.Outputs {
		graph.Outputs[field] = ParseExpr(raw)
	}

	// Статическая проверка: ссылки на результаты указывают
	// на задачи, присутствующие в графе.
	if err := validateOutputRefs(graph, resultKeys); err != nil {
		return nil, err
	}

	return graph, nil
}

// buildNode валидирует определение задачи и компилирует её вариант.
func buildNode(def *domain.TaskDef, existing map[string]*Node, resultKeys map[string]bool) (*Node, error) {
	if def.ID == "" {
		return nil, NewDefinitionError("", "id", "task has empty ID", ErrEmptyTaskID)
	}

	if _, exists := existing[def.ID]; exists {
		return nil, NewDefinitionError(def.ID, "id",
			fmt.Sprintf("duplicate task ID: %s", def.ID), ErrDuplicateTaskID)
	}

	for _, dep := range def.DependsOn {
		if dep == def.ID {
			return nil, NewDefinitionError(def.ID, "depends_on",
				"task depends on itself", ErrSelfDependency)
		}
	}

	key := def.ResultKey()
	if resultKeys[key] {
		return nil, NewDefinitionError(def.ID, "output_path",
			fmt.Sprintf("output path already in use: %s", key), ErrDuplicateResultKey)
	}
	resultKeys[key] = true

	node := &Node{
		Def:       def,
		ID:        def.ID,
		ResultKey: key,
		DependsOn: def.DependsOn,
	}

	if def.Condition != "" {
		node.Condition = ParseExpr(def.Condition)
		node.refs = append(node.refs, node.Condition)
	}

	task, refs, err := compileTask(def)
	if err != nil {
		return nil, err
	}
	node.Task = task
	node.refs = append(node.refs, refs...)

	return node, nil
}

// compileTask собирает вариант задачи из конфигурации.
// Неизвестный тип — ошибка валидации, не ветка в движке.
func compileTask(def *domain.TaskDef) (Task, []*Expr, error) {
	switch def.Type {
	case domain.TaskTypeShell:
		return compileShellTask(def)
	case domain.TaskTypeRest:
		return compileRestTask(def)
	case "":
		return nil, nil, NewDefinitionError(def.ID, "type",
			"task has empty type", ErrUnknownTaskType)
	default:
		return nil, nil, NewDefinitionError(def.ID, "type",
			fmt.Sprintf("unknown task type: %s", def.Type), ErrUnknownTaskType)
	}
}

// compileShellTask собирает ShellTask из config: command, args.
func compileShellTask(def *domain.TaskDef) (Task, []*Expr, error) {
	command, _ := def.Config["command"].(string)
	if command == "" {
		return nil, nil, NewDefinitionError(def.ID, "config.command",
			"shell task requires a command", ErrInvalidConfig)
	}

	rawArgs, err := configStrings(def.Config["args"])
	if err != nil {
		return nil, nil, NewDefinitionError(def.ID, "config.args",
			"args must be a list of strings", ErrInvalidConfig)
	}

	task := &ShellTask{Command: command, Args: make([]*Expr, len(rawArgs))}
	refs := make([]*Expr, len(rawArgs))
	for i, raw := range rawArgs {
		task.Args[i] = ParseExpr(raw)
		refs[i] = task.Args[i]
	}

	return task, refs, nil
}

// compileRestTask собирает RestTask из config: method, url, headers, body.
func compileRestTask(def *domain.TaskDef) (Task, []*Expr, error) {
	url, _ := def.Config["url"].(string)
	if url == "" {
		return nil, nil, NewDefinitionError(def.ID, "config.url",
			"rest task requires a url", ErrInvalidConfig)
	}

	method, _ := def.Config["method"].(string)
	if method == "" {
		method = "GET"
	}

	task := &RestTask{Method: method, URL: ParseExpr(url)}
	refs := []*Expr{task.URL}

	if rawHeaders, ok := def.Config["headers"]; ok {
		headers, ok := rawHeaders.(map[string]any)
		if !ok {
			return nil, nil, NewDefinitionError(def.ID, "config.headers",
				"headers must be a mapping of strings", ErrInvalidConfig)
		}
		task.Headers = make(map[string]*Expr, len(headers))
		for name, value := range headers {
			s, ok := value.(string)
			if !ok {
				return nil, nil, NewDefinitionError(def.ID, "config.headers",
					fmt.Sprintf("header %s must be a string", name), ErrInvalidConfig)
			}
			task.Headers[name] = ParseExpr(s)
			refs = append(refs, task.Headers[name])
		}
	}

	if body, ok := def.Config["body"]; ok {
		compiled, bodyRefs := compileValue(body)
		task.Body = compiled
		refs = append(refs, bodyRefs...)
	}

	return task, refs, nil
}

// compileValue рекурсивно разбирает выражения внутри значения.
// Строки-ссылки заменяются на *Expr, литералы остаются строками.
func compileValue(value any) (any, []*Expr) {
	switch v := value.(type) {
	case string:
		expr := ParseExpr(v)
		if expr.Kind == ExprLiteral {
			return v, nil
		}
		return expr, []*Expr{expr}

	case map[string]any:
		result := make(map[string]any, len(v))
		var refs []*Expr
		for key, val := range v {
			compiled, valRefs := compileValue(val)
			result[key] = compiled
			refs = append(refs, valRefs...)
		}
		return result, refs

	case []any:
		result := make([]any, len(v))
		var refs []*Expr
		for i, val := range v {
			compiled, valRefs := compileValue(val)
			result[i] = compiled
			refs = append(refs, valRefs...)
		}
		return result, refs

	default:
		return value, nil
	}
}

// configStrings приводит значение из config к списку строк.
func configStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		result := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			result[i] = s
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func topologicalSort(nodes map[string]*Node) ([]*Node, error) {
	inDegree := make(map[string]int, len(nodes))
	for id, node := range nodes {
		inDegree[id] = len(node.DependsOn)
	}

	queue := make([]*Node, 0, len(nodes))
	for id, node := range nodes {
		if inDegree[id] == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]*Node, 0, len(nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, nodes[dependent])
			}
		}
	}

	// Если не все узлы обработаны — есть цикл.
	if len(order) != len(nodes) {
		return nil, NewDefinitionError("", "depends_on",
			"cyclic dependency detected", ErrCyclicDependency)
	}

	return order, nil
}

// validateOutputRefs проверяет, что ссылки на результаты задач
// указывают на существующие задачи графа.
func validateOutputRefs(graph *Graph, resultKeys map[string]bool) error {
	check := func(taskID string, x *Expr) error {
		if x.Kind != ExprOutput {
			return nil
		}
		if !resultKeys[x.TaskKey] {
			return NewDefinitionError(taskID, "expression",
				fmt.Sprintf("references unknown task: %s", x.TaskKey), ErrUnknownOutputRef)
		}
		return nil
	}

	for _, node := range graph.Nodes {
		for _, ref := range node.refs {
			if err := check(node.ID, ref); err != nil {
				return err
			}
		}
	}

	for _, expr := range graph.Outputs {
		if err := check("", expr); err != nil {
			return err
		}
	}

	return nil
}
