package provision

import (
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/cochaviz/wslkit/internal/distro"
)

// Environment abstracts the process facts the precondition checks look at.
type Environment struct {
	// Euid returns the effective user ID, or -1 where the platform has none.
	Euid     func() int
	LookPath func(file string) (string, error)
}

// SystemEnvironment reports on the running process.
func SystemEnvironment() Environment {
	return Environment{Euid: currentEUID, LookPath: exec.LookPath}
}

func (e Environment) euid() int {
	if e.Euid == nil {
		return currentEUID()
	}
	return e.Euid()
}

func (e Environment) lookPath(file string) (string, error) {
	if e.LookPath == nil {
		return exec.LookPath(file)
	}
	return e.LookPath(file)
}

// ValidateProfile checks that profile is one of the known profiles.
func ValidateProfile(profile string, profiles []string) error {
	if strings.TrimSpace(profile) == "" {
		return &distro.ValidationError{Message: fmt.Sprintf("a profile is required (one of: %s)", strings.Join(profiles, ", "))}
	}
	if !slices.Contains(profiles, profile) {
		return &distro.ValidationError{Message: fmt.Sprintf("unknown profile %q (one of: %s)", profile, strings.Join(profiles, ", "))}
	}
	return nil
}

// CheckPreconditions refuses to provision as root and requires every tool in
// tools to be on PATH. All failures are reported together.
func CheckPreconditions(env Environment, tools []string) error {
	var errs []error

	if env.euid() == 0 {
		errs = append(errs, &distro.PreconditionError{
			Message: "provisioning must not run as root",
			Remedy:  "run as your regular user; sudo is invoked where needed",
		})
	}

	var missing []string
	for _, tool := range tools {
		if _, err := env.lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, &distro.PreconditionError{
			Message: fmt.Sprintf("required tools not found: %s", strings.Join(missing, ", ")),
			Remedy:  fmt.Sprintf("install them first, e.g. sudo dnf install -y %s", strings.Join(missing, " ")),
		})
	}

	return errors.Join(errs...)
}
