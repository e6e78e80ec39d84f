package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/nmakarov/conveyor/internal/domain"
)

// fakeRunner — CommandRunner для тестов: отдаёт заготовленный
// результат и запоминает, что его вызывали.
type fakeRunner struct {
	out   CommandOutput
	err   error
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, command string, args []string) (CommandOutput, error) {
	f.calls = append(f.calls, append([]string{command}, args...))
	return f.out, f.err
}

// fakeDoer — HTTPDoer для тестов.
type fakeDoer struct {
	resp *http.Response
	err  error
	last *http.Request
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.last = req
	return f.resp, f.err
}

func testRunContext(caps Capabilities, input map[string]any, results map[string]domain.TaskResult) *RunContext {
	return &RunContext{
		Workflow: "test",
		Version:  1,
		Input:    input,
		Caps:     caps,
		eval:     NewEvaluator(nil),
		results:  results,
	}
}

func TestShellTask_Success(t *testing.T) {
	runner := &fakeRunner{out: CommandOutput{Stdout: "hello\n", ExitCode: 0}}
	task := &ShellTask{Command: "echo", Args: []*Expr{ParseExpr("hello")}}

	result := task.Run(context.Background(), testRunContext(Capabilities{Commands: runner}, nil, nil))

	if result.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", result.Status, result.Error)
	}
	if result.Output["stdout"] != "hello\n" {
		t.Errorf("expected stdout in output, got %v", result.Output)
	}
	if result.Output["exit_code"] != 0 {
		t.Errorf("expected exit_code 0, got %v", result.Output["exit_code"])
	}
	if result.Error != "" {
		t.Error("error must be empty on COMPLETED")
	}
}

func TestShellTask_NonZeroExit(t *testing.T) {
	runner := &fakeRunner{out: CommandOutput{Stderr: "no such file", ExitCode: 2}}
	task := &ShellTask{Command: "ls"}

	result := task.Run(context.Background(), testRunContext(Capabilities{Commands: runner}, nil, nil))

	if result.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if result.Output != nil {
		t.Error("output must be absent on FAILED")
	}
	if !strings.Contains(result.Error, "code 2") {
		t.Errorf("error should mention exit code, got %q", result.Error)
	}
	if !strings.Contains(result.Error, "no such file") {
		t.Errorf("error should include stderr, got %q", result.Error)
	}
}

func TestShellTask_RunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("executable not found")}
	task := &ShellTask{Command: "missing"}

	result := task.Run(context.Background(), testRunContext(Capabilities{Commands: runner}, nil, nil))

	if result.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
}

func TestShellTask_Timeout(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	task := &ShellTask{Command: "sleep"}

	result := task.Run(context.Background(), testRunContext(Capabilities{Commands: runner}, nil, nil))

	if result.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "timeout") {
		t.Errorf("error should indicate a timeout, got %q", result.Error)
	}
}

func TestShellTask_MissingCapability(t *testing.T) {
	task := &ShellTask{Command: "true"}

	result := task.Run(context.Background(), testRunContext(Capabilities{}, nil, nil))

	if result.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
}

func TestShellTask_ArgsResolved(t *testing.T) {
	runner := &fakeRunner{out: CommandOutput{ExitCode: 0}}
	task := &ShellTask{
		Command: "process",
		Args: []*Expr{
			ParseExpr("{{ workflow.input.name }}"),
			ParseExpr("{{ tasks.fetch.output.file }}"),
			ParseExpr("--verbose"),
		},
	}

	input := map[string]any{"name": "alice"}
	results := map[string]domain.TaskResult{
		"fetch": domain.NewCompletedResult(map[string]any{"file": "/tmp/data.json"}),
	}

	result := task.Run(context.Background(), testRunContext(Capabilities{Commands: runner}, input, results))
	if result.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}

	want := []string{"process", "alice", "/tmp/data.json", "--verbose"}
	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(runner.calls))
	}
	got := runner.calls[0]
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func httpResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func TestRestTask_Success(t *testing.T) {
	doer := &fakeDoer{resp: httpResponse(200, `{"ok": true}`)}
	task := &RestTask{Method: "GET", URL: ParseExpr("https://api.example.com/items")}

	result := task.Run(context.Background(), testRunContext(Capabilities{HTTP: doer}, nil, nil))

	if result.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", result.Status, result.Error)
	}
	if result.Output["status_code"] != 200 {
		t.Errorf("expected status_code 200, got %v", result.Output["status_code"])
	}

	body, ok := result.Output["body"].(map[string]any)
	if !ok {
		t.Fatalf("JSON body should be parsed, got %T", result.Output["body"])
	}
	if body["ok"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestRestTask_HTTPErrorStatusIsCompleted(t *testing.T) {
	// Любой HTTP-статус — это завершённый вызов.
	// FAILED — только транспортные ошибки.
	doer := &fakeDoer{resp: httpResponse(503, "unavailable")}
	task := &RestTask{Method: "GET", URL: ParseExpr("https://api.example.com/items")}

	result := task.Run(context.Background(), testRunContext(Capabilities{HTTP: doer}, nil, nil))

	if result.Status != domain.TaskStatusCompleted {
		t.Fatalf("HTTP 503 should still be COMPLETED, got %s", result.Status)
	}
	if result.Output["status_code"] != 503 {
		t.Errorf("expected status_code 503, got %v", result.Output["status_code"])
	}
	if result.Output["body"] != "unavailable" {
		t.Errorf("non-JSON body should be a string, got %v", result.Output["body"])
	}
}

func TestRestTask_TransportError(t *testing.T) {
	doer := &fakeDoer{err: errors.New("connection refused")}
	task := &RestTask{Method: "GET", URL: ParseExpr("https://api.example.com/items")}

	result := task.Run(context.Background(), testRunContext(Capabilities{HTTP: doer}, nil, nil))

	if result.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "connection refused") {
		t.Errorf("error should include transport failure, got %q", result.Error)
	}
}

func TestRestTask_RequestResolved(t *testing.T) {
	doer := &fakeDoer{resp: httpResponse(201, "")}
	task := &RestTask{
		Method: "POST",
		URL:    ParseExpr("{{ workflow.input.endpoint }}"),
		Headers: map[string]*Expr{
			"Authorization": ParseExpr("{{ workflow.input.token }}"),
		},
		Body: map[string]any{
			"name":   ParseExpr("{{ tasks.fetch.output.name }}"),
			"static": "value",
		},
	}

	input := map[string]any{
		"endpoint": "https://api.example.com/users",
		"token":    "Bearer abc",
	}
	results := map[string]domain.TaskResult{
		"fetch": domain.NewCompletedResult(map[string]any{"name": "bob"}),
	}

	result := task.Run(context.Background(), testRunContext(Capabilities{HTTP: doer}, input, results))
	if result.Status != domain.TaskStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", result.Status, result.Error)
	}

	req := doer.last
	if req.URL.String() != "https://api.example.com/users" {
		t.Errorf("url should resolve from input, got %s", req.URL)
	}
	if req.Header.Get("Authorization") != "Bearer abc" {
		t.Errorf("header should resolve from input, got %q", req.Header.Get("Authorization"))
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("structured body should be sent as JSON, got %q", req.Header.Get("Content-Type"))
	}

	sent, _ := io.ReadAll(req.Body)
	if !strings.Contains(string(sent), `"name":"bob"`) {
		t.Errorf("body should resolve task output, got %s", sent)
	}
}

func TestRestTask_URLNotResolvable(t *testing.T) {
	doer := &fakeDoer{resp: httpResponse(200, "")}
	task := &RestTask{Method: "GET", URL: ParseExpr("{{ workflow.input.missing }}")}

	result := task.Run(context.Background(), testRunContext(Capabilities{HTTP: doer}, map[string]any{}, nil))

	if result.Status != domain.TaskStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if doer.last != nil {
		t.Error("no request should be sent when url is absent")
	}
}
