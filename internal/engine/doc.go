// Package engine содержит движок выполнения workflow.
//
// Включает:
//   - graph.go  — построение и валидация графа задач (DAG)
//   - expr.go   — разбор и вычисление выражений ({{ workflow.input.x }})
//   - task.go   — варианты задач (shell, rest) и контракт выполнения
//   - engine.go — цикл планирования: волны готовых задач, статусы, итог
//
// Engine выполняет задачи в порядке зависимостей: задачи одной волны
// не зависят друг от друга и выполняются параллельно. Падение одной
// задачи не прерывает run — зависимые задачи получают SKIPPED.
package engine
