package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

type Command struct {
	Name string
	Args []string
	Dir  string

	// Output destinations. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command as a shell-quoted line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d: %s", e.Code, e.Command)
}

// ExecRunner runs commands as subprocesses. Output of every command is sent to
// Output unless the command sets its own writers.
type ExecRunner struct {
	Output io.Writer
}

var _ Runner = (*ExecRunner)(nil)

func NewExecRunner(output io.Writer) *ExecRunner {
	return &ExecRunner{Output: output}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = firstWriter(cmd.Stdout, r.Output)
	c.Stderr = firstWriter(cmd.Stderr, r.Output)

	line := cmd.String()
	slog.Debug("running command", "command", line, "dir", cmd.Dir)

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command %s cancelled: %w", line, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("command failed", "command", line, "code", exitErr.ExitCode(), "elapsed", elapsed)
			return &ExitError{Command: line, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("failed to run %s: %w", line, err)
	}

	slog.Debug("command finished", "command", line, "elapsed", elapsed)
	return nil
}

func firstWriter(ws ...io.Writer) io.Writer {
	for _, w := range ws {
		if w != nil {
			return w
		}
	}
	return io.Discard
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`*?[]{}()<>|&;#~!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
