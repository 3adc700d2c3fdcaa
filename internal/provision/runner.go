package provision

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/cochaviz/wslkit/internal/distro"
	"github.com/cochaviz/wslkit/internal/logging"

	"github.com/kballard/go-shellquote"
)

// Runner executes external commands for the provisioner.
type Runner interface {
	// Run streams the command's output to the operator.
	Run(ctx context.Context, dir, name string, args ...string) error
	// Output captures combined output.
	Output(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the local system.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := r.command(ctx, dir, name, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if r.Stdin != nil {
		cmd.Stdin = r.Stdin
	}
	if r.Stdout != nil {
		cmd.Stdout = r.Stdout
	}
	if r.Stderr != nil {
		cmd.Stderr = r.Stderr
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &distro.CommandError{Args: cmd.Args, ExitCode: exitCode(err), Err: err}
	}
	return nil
}

func (r *ExecRunner) Output(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := r.command(ctx, dir, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return buf.String(), ctxErr
		}
		return buf.String(), &distro.CommandError{Args: cmd.Args, Output: buf.String(), ExitCode: exitCode(err), Err: err}
	}
	return buf.String(), nil
}

func (r *ExecRunner) command(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	logging.Ensure(r.Logger).Debug("running command", "dir", dir, "command", shellquote.Join(cmd.Args...))
	return cmd
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
