package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/nmakarov/conveyor/internal/engine"
)

// ShellRunner — engine.CommandRunner поверх os/exec.
//
// Команда запускается напрямую, без оболочки: аргументы передаются
// как есть и не подвержены shell-интерполяции.
type ShellRunner struct{}

// NewShellRunner создаёт ShellRunner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run запускает команду и захватывает stdout/stderr/код завершения.
//
// Ненулевой код завершения — не ошибка: он возвращается в
// CommandOutput, решение принимает задача. Ошибка возвращается
// только когда процесс не удалось запустить или его прервал контекст.
func (r *ShellRunner) Run(ctx context.Context, command string, args []string) (engine.CommandOutput, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := engine.CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, err
	}

	return out, nil
}
