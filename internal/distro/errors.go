package distro

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// CommandError reports an external command that exited unsuccessfully. Output
// holds the captured combined output verbatim.
type CommandError struct {
	Args     []string
	Output   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", shellquote.Join(e.Args...), e.ExitCode)
	if e.ExitCode < 0 && e.Err != nil {
		msg = fmt.Sprintf("%s failed: %v", shellquote.Join(e.Args...), e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ":\n" + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// PreconditionError reports an unmet requirement that the operator must fix
// before rerunning.
type PreconditionError struct {
	Message string
	Remedy  string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// ValidationError reports operator input that was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PostconditionError reports a step that ran but did not leave the distro in
// the expected state.
type PostconditionError struct {
	Distro  string
	Message string
	Remedy  string
}

func (e *PostconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Distro, e.Message)
}

// Remedy returns the remediation hint attached to err, if any.
func Remedy(err error) string {
	var pre *PreconditionError
	if errors.As(err, &pre) {
		return pre.Remedy
	}
	var post *PostconditionError
	if errors.As(err, &post) {
		return post.Remedy
	}
	return ""
}
