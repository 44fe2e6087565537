package fixer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandRunner executes one shell command and returns its combined
// output. The context carries the per-strategy deadline.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// ShellRunner runs commands through sh -c.
type ShellRunner struct{}

// Run executes the command, treating a context deadline as a timeout error.
func (ShellRunner) Run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return string(out), fmt.Errorf("command timed out: %w", ctx.Err())
	}
	if err != nil {
		return string(out), fmt.Errorf("command failed: %w", err)
	}
	return string(out), nil
}
