package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/nmakarov/conveyor/internal/domain"
)

// CommandRunner — внешняя способность запускать команды.
//
// Движок не работает с процессами напрямую: реализация
// внедряется окружающим приложением (internal/runner для
// production, фейк для тестов).
type CommandRunner interface {
	Run(ctx context.Context, command string, args []string) (CommandOutput, error)
}

// CommandOutput — захваченный результат команды.
type CommandOutput struct {
	// Stdout — захваченный стандартный вывод.
	Stdout string

	// Stderr — захваченный поток ошибок.
	Stderr string

	// ExitCode — код завершения процесса.
	ExitCode int
}

// HTTPDoer — внешняя способность выполнять HTTP-запросы.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Capabilities — внедряемые способности выполнения задач.
type Capabilities struct {
	// Commands — запуск команд для shell-задач.
	Commands CommandRunner

	// HTTP — клиент для rest-задач.
	HTTP HTTPDoer
}

// RunContext — контекст одного выполнения workflow.
//
// Передаётся задачам явно: имя и версия workflow, входные данные
// и результаты уже завершённых зависимостей. Снимок результатов
// делается движком перед диспетчеризацией волны, поэтому задача
// никогда не видит незавершённые задачи.
type RunContext struct {
	// Workflow — имя workflow, породившего run.
	Workflow string

	// Version — версия определения workflow.
	Version int

	// Input — входные данные run. Только чтение.
	Input map[string]any

	// Caps — способности выполнения.
	Caps Capabilities

	eval    *Evaluator
	results map[string]domain.TaskResult
}

// Resolve вычисляет выражение в контексте run.
func (rc *RunContext) Resolve(x *Expr) (any, bool) {
	return rc.eval.Resolve(x, rc.Input, rc.results)
}

// ResolveString вычисляет выражение и приводит результат к строке.
// Absent даёт пустую строку.
func (rc *RunContext) ResolveString(x *Expr) string {
	value, ok := rc.Resolve(x)
	if !ok || value == nil {
		return ""
	}
	return stringify(value)
}

// resolveValue рекурсивно вычисляет выражения внутри значения:
// *Expr заменяется результатом, map и slice обходятся вглубь.
func (rc *RunContext) resolveValue(value any) any {
	switch v := value.(type) {
	case *Expr:
		resolved, ok := rc.Resolve(v)
		if !ok {
			return nil
		}
		return resolved

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = rc.resolveValue(val)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = rc.resolveValue(val)
		}
		return result

	default:
		return value
	}
}

// stringify приводит значение к строковому представлению аргумента.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Task — единица работы внутри workflow.
//
// Варианты: ShellTask, RestTask. Закрытое множество: новый тип
// задачи — это новый вариант с собственным Run, а не ветка по
// строке внутри движка. Побочные эффекты (процесс, сеть)
// ограничены методом Run.
type Task interface {
	Run(ctx context.Context, rc *RunContext) domain.TaskResult
}

// ShellTask — выполнение команды с аргументами.
//
// Команда — литерал; аргументы могут содержать выражения
// и вычисляются в момент запуска. Код завершения 0 → COMPLETED
// с output {stdout, exit_code}; иначе FAILED с кодом и stderr
// в тексте ошибки. Без внутренних retry.
type ShellTask struct {
	// Command — имя команды.
	Command string

	// Args — аргументы (каждый может быть выражением).
	Args []*Expr
}

// Run выполняет команду через внедрённый CommandRunner.
func (t *ShellTask) Run(ctx context.Context, rc *RunContext) domain.TaskResult {
	if rc.Caps.Commands == nil {
		return domain.NewFailedResult(ErrMissingCapability.Error() + ": command runner")
	}

	args := make([]string, len(t.Args))
	for i, arg := range t.Args {
		args[i] = rc.ResolveString(arg)
	}

	out, err := rc.Caps.Commands.Run(ctx, t.Command, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewFailedResult(fmt.Sprintf("execution timeout: %s", t.Command))
		}
		return domain.NewFailedResult(fmt.Sprintf("run command %s: %v", t.Command, err))
	}

	if out.ExitCode != 0 {
		return domain.NewFailedResult(fmt.Sprintf(
			"command %s exited with code %d: %s", t.Command, out.ExitCode, out.Stderr,
		))
	}

	return domain.NewCompletedResult(map[string]any{
		"stdout":    out.Stdout,
		"exit_code": out.ExitCode,
	})
}

// RestTask — HTTP-запрос к внешнему сервису.
//
// Метод, URL, заголовки и тело могут содержать выражения.
// Любой HTTP-статус ответа — это COMPLETED с output
// {status_code, body}: транспортная ошибка (соединение, таймаут),
// а не код ответа, даёт FAILED. Без внутренних retry.
type RestTask struct {
	// Method — HTTP-метод (GET, POST, ...).
	Method string

	// URL — адрес запроса (может быть выражением).
	URL *Expr

	// Headers — HTTP-заголовки (значения могут быть выражениями).
	Headers map[string]*Expr

	// Body — тело запроса. Строки внутри могут быть выражениями;
	// не-строковое тело сериализуется в JSON.
	Body any
}

// Run выполняет запрос через внедрённый HTTPDoer.
func (t *RestTask) Run(ctx context.Context, rc *RunContext) domain.TaskResult {
	if rc.Caps.HTTP == nil {
		return domain.NewFailedResult(ErrMissingCapability.Error() + ": http client")
	}

	url := rc.ResolveString(t.URL)
	if url == "" {
		return domain.NewFailedResult("url did not resolve to a value")
	}

	body, contentType, err := t.buildBody(rc)
	if err != nil {
		return domain.NewFailedResult(fmt.Sprintf("build request body: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, t.Method, url, body)
	if err != nil {
		return domain.NewFailedResult(fmt.Sprintf("build request: %v", err))
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, expr := range t.Headers {
		req.Header.Set(name, rc.ResolveString(expr))
	}

	resp, err := rc.Caps.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewFailedResult(fmt.Sprintf("execution timeout: %s %s", t.Method, url))
		}
		return domain.NewFailedResult(fmt.Sprintf("%v: %v", ErrHTTPRequest, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewFailedResult(fmt.Sprintf("read response body: %v", err))
	}

	return domain.NewCompletedResult(map[string]any{
		"status_code": resp.StatusCode,
		"body":        parseBody(respBody),
	})
}

// buildBody собирает тело запроса.
// Возвращает reader, Content-Type и ошибку сериализации.
func (t *RestTask) buildBody(rc *RunContext) (io.Reader, string, error) {
	if t.Body == nil {
		return nil, "", nil
	}

	resolved := rc.resolveValue(t.Body)
	if resolved == nil {
		return nil, "", nil
	}

	if s, ok := resolved.(string); ok {
		return bytes.NewBufferString(s), "", nil
	}

	data, err := json.Marshal(resolved)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewBuffer(data), "application/json", nil
}

// parseBody пытается разобрать тело ответа как JSON,
// иначе возвращает строку.
func parseBody(data []byte) any {
	if len(data) == 0 {
		return ""
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		return parsed
	}
	return string(data)
}
