package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestShellRunner_Success(t *testing.T) {
	r := NewShellRunner()

	out, err := r.Run(context.Background(), "echo", []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(out.Stdout) != "hello" {
		t.Errorf("expected stdout 'hello', got %q", out.Stdout)
	}
	if out.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", out.ExitCode)
	}
}

func TestShellRunner_NonZeroExit(t *testing.T) {
	r := NewShellRunner()

	// Ненулевой код завершения — не infrastructure error
	out, err := r.Run(context.Background(), "sh", []string{"-c", "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}

	if out.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", out.ExitCode)
	}
	if !strings.Contains(out.Stderr, "oops") {
		t.Errorf("expected stderr to contain 'oops', got %q", out.Stderr)
	}
}

func TestShellRunner_CommandNotFound(t *testing.T) {
	r := NewShellRunner()

	_, err := r.Run(context.Background(), "definitely-not-a-command-xyz", nil)
	if err == nil {
		t.Error("expected error for missing command")
	}
}

func TestShellRunner_ContextCancel(t *testing.T) {
	r := NewShellRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, "sleep", []string{"10"})
	elapsed := time.Since(start)

	if err == nil {
		t.Error("expected error for cancelled context")
	}
	if elapsed > 2*time.Second {
		t.Errorf("command should have been killed quickly, took %v", elapsed)
	}
}

func TestShellRunner_NoShellInterpolation(t *testing.T) {
	r := NewShellRunner()

	// Аргументы передаются как есть, без оболочки
	out, err := r.Run(context.Background(), "echo", []string{"$HOME"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "$HOME" {
		t.Errorf("expected literal $HOME, got %q", out.Stdout)
	}
}

func TestNewHTTPClient_DefaultTimeout(t *testing.T) {
	c := NewHTTPClient(0)
	if c.Timeout != defaultHTTPTimeout {
		t.Errorf("expected default timeout %v, got %v", defaultHTTPTimeout, c.Timeout)
	}

	c = NewHTTPClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", c.Timeout)
	}
}
