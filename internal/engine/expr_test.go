package engine

import (
	"reflect"
	"testing"

	"github.com/nmakarov/conveyor/internal/domain"
)

func TestParseExpr_InputRef(t *testing.T) {
	tests := []struct {
		expr string
		path []string
	}{
		{"{{ workflow.input.flag }}", []string{"flag"}},
		{"{{workflow.input.user.name}}", []string{"user", "name"}},
		{"{{  workflow.input.a.b.c  }}", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			x := ParseExpr(tt.expr)
			if x.Kind != ExprInput {
				t.Fatalf("expected ExprInput, got %v", x.Kind)
			}
			if !reflect.DeepEqual(x.Path, tt.path) {
				t.Errorf("expected path %v, got %v", tt.path, x.Path)
			}
		})
	}
}

func TestParseExpr_OutputRef(t *testing.T) {
	x := ParseExpr("{{ tasks.fetch.output.body }}")
	if x.Kind != ExprOutput {
		t.Fatalf("expected ExprOutput, got %v", x.Kind)
	}
	if x.TaskKey != "fetch" {
		t.Errorf("expected task key fetch, got %s", x.TaskKey)
	}
	if x.Field != "body" {
		t.Errorf("expected field body, got %s", x.Field)
	}
}

func TestParseExpr_Literal(t *testing.T) {
	literals := []string{
		"hello",
		"",
		"plain text with spaces",
		"workflow.input.flag", // без скобок — литерал
	}

	for _, s := range literals {
		x := ParseExpr(s)
		if x.Kind != ExprLiteral {
			t.Errorf("%q: expected ExprLiteral, got %v", s, x.Kind)
		}
		if x.Literal != s {
			t.Errorf("%q: literal should pass through unchanged, got %q", s, x.Literal)
		}
	}
}

func TestParseExpr_Invalid(t *testing.T) {
	// Строки в форме ссылки, не совпавшие с известными формами,
	// не должны утекать как литералы.
	invalid := []string{
		"{{ tasks.fetch }}",
		"{{ workflow.input }}",
		"{{ unknown.thing.here }}",
		"{{ tasks.fetch.outputs.body }}",
	}

	for _, s := range invalid {
		x := ParseExpr(s)
		if x.Kind != ExprInvalid {
			t.Errorf("%q: expected ExprInvalid, got %v", s, x.Kind)
		}
	}
}

func TestEvaluator_ResolveInput(t *testing.T) {
	eval := NewEvaluator(nil)
	input := map[string]any{
		"flag": true,
		"user": map[string]any{
			"name": "alice",
		},
	}

	// Существующий путь возвращает точное сохранённое значение.
	value, ok := eval.Resolve(ParseExpr("{{ workflow.input.user.name }}"), input, nil)
	if !ok {
		t.Fatal("expected value to resolve")
	}
	if value != "alice" {
		t.Errorf("expected alice, got %v", value)
	}

	// Отсутствующий путь — absent, не ошибка.
	if _, ok := eval.Resolve(ParseExpr("{{ workflow.input.user.email }}"), input, nil); ok {
		t.Error("missing path should be absent")
	}

	// Путь через не-map сегмент — absent.
	if _, ok := eval.Resolve(ParseExpr("{{ workflow.input.flag.deep }}"), input, nil); ok {
		t.Error("path through scalar should be absent")
	}
}

func TestEvaluator_ResolveOutput(t *testing.T) {
	eval := NewEvaluator(nil)
	results := map[string]domain.TaskResult{
		"fetch": domain.NewCompletedResult(map[string]any{"status_code": 200}),
		"parse": {Status: domain.TaskStatusFailed, Error: "boom"},
	}

	value, ok := eval.Resolve(ParseExpr("{{ tasks.fetch.output.status_code }}"), nil, results)
	if !ok {
		t.Fatal("expected value to resolve")
	}
	if value != 200 {
		t.Errorf("expected 200, got %v", value)
	}

	// Результат незавершённой (упавшей) задачи недоступен.
	if _, ok := eval.Resolve(ParseExpr("{{ tasks.parse.output.data }}"), nil, results); ok {
		t.Error("output of failed task should be absent")
	}

	// Неизвестная задача — absent.
	if _, ok := eval.Resolve(ParseExpr("{{ tasks.ghost.output.data }}"), nil, results); ok {
		t.Error("output of unknown task should be absent")
	}

	// Отсутствующее поле — absent.
	if _, ok := eval.Resolve(ParseExpr("{{ tasks.fetch.output.body }}"), nil, results); ok {
		t.Error("missing field should be absent")
	}
}

func TestEvaluator_LiteralPassThrough(t *testing.T) {
	eval := NewEvaluator(nil)

	value, ok := eval.Resolve(ParseExpr("just a string"), nil, nil)
	if !ok {
		t.Fatal("literal should always resolve")
	}
	if value != "just a string" {
		t.Errorf("literal should pass through unchanged, got %v", value)
	}
}

func TestEvaluator_MalformedIsAbsent(t *testing.T) {
	eval := NewEvaluator(nil)

	if _, ok := eval.Resolve(ParseExpr("{{ tasks.broken }}"), nil, nil); ok {
		t.Error("malformed reference should be absent, not an error")
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name  string
		value any
		ok    bool
		want  bool
	}{
		{"absent", nil, false, false},
		{"nil", nil, true, false},
		{"false", false, true, false},
		{"true", true, true, true},
		{"empty string", "", true, false},
		{"false string", "false", true, false},
		{"string", "yes", true, true},
		{"zero int", 0, true, false},
		{"int", 7, true, true},
		{"zero float", 0.0, true, false},
		{"float", 1.5, true, true},
		{"empty map", map[string]any{}, true, false},
		{"map", map[string]any{"k": 1}, true, true},
		{"empty slice", []any{}, true, false},
		{"slice", []any{1}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truthy(tt.value, tt.ok); got != tt.want {
				t.Errorf("Truthy(%v, %v) = %v, want %v", tt.value, tt.ok, got, tt.want)
			}
		})
	}
}
