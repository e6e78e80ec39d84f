package engine

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/nmakarov/conveyor/internal/domain"
)

// ExprKind — вид разобранного выражения.
type ExprKind int

const (
	// ExprLiteral — строка без ссылок, возвращается как есть.
	ExprLiteral ExprKind = iota

	// ExprInput — ссылка на поле входных данных run:
	// {{ workflow.input.path.to.field }}
	ExprInput

	// ExprOutput — ссылка на поле результата завершённой задачи:
	// {{ tasks.<id>.output.<field> }}
	ExprOutput

	// ExprInvalid — строка в форме ссылки ({{ ... }}), не совпавшая
	// ни с одной из известных форм. Всегда разрешается в absent.
	ExprInvalid
)

// Expr — выражение, разобранное один раз при построении графа.
//
// Повторный разбор строки на каждом вычислении не нужен:
// Resolve работает по готовому AST.
type Expr struct {
	// Kind — вид выражения.
	Kind ExprKind

	// Path — путь внутри входных данных (для ExprInput).
	Path []string

	// TaskKey — ключ результата задачи (для ExprOutput).
	TaskKey string

	// Field — имя поля результата задачи (для ExprOutput).
	Field string

	// Literal — исходная строка (для ExprLiteral и ExprInvalid).
	Literal string
}

// Формы ссылок. Строка должна совпадать целиком.
var (
	inputRefRe  = regexp.MustCompile(`^\{\{\s*workflow\.input((?:\.[A-Za-z0-9_-]+)+)\s*\}\}$`)
	outputRefRe = regexp.MustCompile(`^\{\{\s*tasks\.([A-Za-z0-9_-]+)\.output\.([A-Za-z0-9_-]+)\s*\}\}$`)
)

// ParseExpr разбирает строку в выражение.
//
// Распознаются ровно две формы ссылок; любая другая строка —
// литерал. Строка в скобках {{ ... }}, не совпавшая с формами,
// считается некорректной ссылкой: она разрешается в absent,
// а не выполняется как литерал, чтобы опечатка в ссылке не
// утекла в результат незамеченной.
func ParseExpr(s string) *Expr {
	if m := inputRefRe.FindStringSubmatch(s); m != nil {
		path := strings.Split(strings.TrimPrefix(m[1], "."), ".")
		return &Expr{Kind: ExprInput, Path: path}
	}

	if m := outputRefRe.FindStringSubmatch(s); m != nil {
		return &Expr{Kind: ExprOutput, TaskKey: m[1], Field: m[2]}
	}

	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		return &Expr{Kind: ExprInvalid, Literal: s}
	}

	return &Expr{Kind: ExprLiteral, Literal: s}
}

// Evaluator вычисляет выражения относительно входных данных run
// и результатов завершённых задач.
//
// Evaluator не хранит состояния и детерминирован: одно и то же
// выражение на одних и тех же данных всегда даёт один результат.
// Вычисление никогда не возвращает ошибку — неразрешимая ссылка
// даёт absent (ok=false) и диагностическую запись в лог.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator создаёт Evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Resolve вычисляет выражение.
//
// input — входные данные run; results — результаты задач,
// ключ — output_path задачи (по умолчанию её ID).
// Второе возвращаемое значение false означает absent.
func (e *Evaluator) Resolve(x *Expr, input map[string]any, results map[string]domain.TaskResult) (any, bool) {
	switch x.Kind {
	case ExprLiteral:
		return x.Literal, true

	case ExprInput:
		return e.resolveInput(x, input)

	case ExprOutput:
		return e.resolveOutput(x, results)

	default:
		e.logger.Warn("malformed expression", "expr", x.Literal)
		return nil, false
	}
}

// resolveInput проходит путь по входным данным.
func (e *Evaluator) resolveInput(x *Expr, input map[string]any) (any, bool) {
	var current any = input
	for _, segment := range x.Path {
		m, ok := current.(map[string]any)
		if !ok {
			e.logger.Debug("input reference not resolvable",
				"path", strings.Join(x.Path, "."),
				"segment", segment,
			)
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			e.logger.Debug("input reference missing",
				"path", strings.Join(x.Path, "."),
				"segment", segment,
			)
			return nil, false
		}
	}
	return current, true
}

// resolveOutput достаёт поле результата завершённой задачи.
// Результаты незавершённых задач недоступны.
func (e *Evaluator) resolveOutput(x *Expr, results map[string]domain.TaskResult) (any, bool) {
	result, ok := results[x.TaskKey]
	if !ok || result.Status != domain.TaskStatusCompleted {
		e.logger.Debug("output reference to incomplete task",
			"task", x.TaskKey,
			"field", x.Field,
		)
		return nil, false
	}

	value, ok := result.Output[x.Field]
	if !ok {
		e.logger.Debug("output reference missing field",
			"task", x.TaskKey,
			"field", x.Field,
		)
		return nil, false
	}
	return value, true
}

// Truthy определяет, считается ли значение истинным для условия.
// Absent, nil, false, пустая строка, нулевые числа и пустые
// коллекции — ложь. Всё остальное — истина.
func Truthy(value any, ok bool) bool {
	if !ok || value == nil {
		return false
	}

	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}
