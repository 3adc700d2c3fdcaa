// Package wslexe implements distro.Host by executing wsl.exe.
package wslexe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cochaviz/wslkit/internal/distro"

	"github.com/kballard/go-shellquote"
)

// DefaultExecutable is resolved through PATH.
const DefaultExecutable = "wsl.exe"

// Host drives the local WSL installation.
type Host struct {
	Executable string
	Logger     *slog.Logger

	// Attached to interactive sessions; the process streams when nil.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var _ distro.Host = (*Host)(nil)

// New returns a Host for executable, defaulting to DefaultExecutable.
func New(executable string, logger *slog.Logger) *Host {
	if strings.TrimSpace(executable) == "" {
		executable = DefaultExecutable
	}
	return &Host{Executable: executable, Logger: logger}
}

func (h *Host) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Host) executable() string {
	if h.Executable != "" {
		return h.Executable
	}
	return DefaultExecutable
}

func (h *Host) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, h.executable(), args...)
	// wsl.exe writes UTF-16 to pipes unless told otherwise
	cmd.Env = append(os.Environ(), "WSL_UTF8=1")
	h.logger().Debug("running wsl command", "command", shellquote.Join(cmd.Args...))
	return cmd
}

// IsRegistered reports whether a distro called name exists. Names are
// compared case-insensitively, as WSL does.
func (h *Host) IsRegistered(ctx context.Context, name string) (bool, error) {
	names, err := h.registeredNames(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true, nil
		}
	}
	return false, nil
}

func (h *Host) listDistros(ctx context.Context) ([]string, error) {
	cmd := h.command(ctx, "--list", "--quiet")
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// wsl.exe exits non-zero when no distro is installed yet
		if strings.Contains(strings.ToLower(decodeOutput(out)), "no installed distributions") {
			return []string{}, nil
		}
		return nil, commandError(cmd.Args, out, err)
	}
	return ParseDistroList(out), nil
}

// ImportDistro registers image under name with its disk stored in installDir.
func (h *Host) ImportDistro(ctx context.Context, name, installDir, image string, version int) error {
	args := []string{"--import", name, installDir, image}
	if version > 0 {
		args = append(args, "--version", strconv.Itoa(version))
	}
	cmd := h.command(ctx, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return commandError(cmd.Args, out, err)
	}
	return nil
}

// RunInteractive runs argv in the distro with the operator's terminal attached.
func (h *Host) RunInteractive(ctx context.Context, name, user string, argv ...string) error {
	cmd := h.command(ctx, sessionArgs(name, user, argv)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if h.Stdin != nil {
		cmd.Stdin = h.Stdin
	}
	if h.Stdout != nil {
		cmd.Stdout = h.Stdout
	}
	if h.Stderr != nil {
		cmd.Stderr = h.Stderr
	}
	if err := cmd.Run(); err != nil {
		return &distro.CommandError{Args: cmd.Args, ExitCode: exitCode(err), Err: err}
	}
	return nil
}

// RunInSession runs argv in the distro and captures its output. A non-zero
// exit status is reported through the result, not the error.
func (h *Host) RunInSession(ctx context.Context, name, user string, stdin io.Reader, argv ...string) (distro.CommandResult, error) {
	cmd := h.command(ctx, sessionArgs(name, user, argv)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	err := cmd.Run()
	result := distro.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	return result, &distro.CommandError{Args: cmd.Args, Output: result.Combined(), ExitCode: -1, Err: err}
}

// Terminate stops the distro so the next session rereads wsl.conf.
func (h *Host) Terminate(ctx context.Context, name string) error {
	cmd := h.command(ctx, "--terminate", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return commandError(cmd.Args, out, err)
	}
	return nil
}

// QueryDefaultUser starts a session without naming a user and returns who it
// logs in as.
func (h *Host) QueryDefaultUser(ctx context.Context, name string) (string, error) {
	cmd := h.command(ctx, sessionArgs(name, "", []string{"whoami"})...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", commandError(cmd.Args, append(stdout.Bytes(), stderr.Bytes()...), err)
	}

	user := strings.TrimSpace(stdout.String())
	if user == "" {
		return "", fmt.Errorf("whoami in %s printed nothing", name)
	}
	return user, nil
}

// sessionArgs runs argv through --exec so the distro's login shell does not
// reinterpret it.
func sessionArgs(name, user string, argv []string) []string {
	args := []string{"-d", name}
	if user != "" {
		args = append(args, "-u", user)
	}
	args = append(args, "--exec")
	return append(args, argv...)
}

func commandError(args []string, out []byte, err error) error {
	return &distro.CommandError{
		Args:     args,
		Output:   decodeOutput(out),
		ExitCode: exitCode(err),
		Err:      err,
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
