package distro

import (
	"context"
	"io"
)

// Host is the narrow set of virtualization-host operations the bootstrapper
// needs. Implementations drive wsl.exe; tests use scripted stubs.
//
// RunInSession reports a command that ran but exited non-zero through
// CommandResult.ExitCode with a nil error. The error is reserved for commands
// that could not be started at all.
type Host interface {
	IsRegistered(ctx context.Context, name string) (bool, error)
	ImportDistro(ctx context.Context, name, installDir, image string, version int) error
	RunInteractive(ctx context.Context, name, user string, argv ...string) error
	RunInSession(ctx context.Context, name, user string, stdin io.Reader, argv ...string) (CommandResult, error)
	Terminate(ctx context.Context, name string) error
	QueryDefaultUser(ctx context.Context, name string) (string, error)
}

// Prompter asks the operator a question. An empty answer is returned as is;
// callers decide whether it means "accept the suggestion".
type Prompter interface {
	Ask(question, suggestion string) (string, error)
}

// RunRepository persists bootstrap history.
type RunRepository interface {
	Save(record RunRecord) error
	LatestForDistro(name string) (*RunRecord, error)
}
