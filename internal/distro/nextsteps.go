package distro

import (
	"fmt"
	"io"

	"github.com/kballard/go-shellquote"
)

// NextSteps returns, per result, the commands that provision and check the
// distro from inside. They are printed for the operator, never executed.
func NextSteps(results []Result, executable string) []string {
	if executable == "" {
		executable = "wslkit"
	}

	steps := make([]string, 0, 2*len(results))
	for _, r := range results {
		name := r.Distro.Name
		profile := r.Distro.Profile
		if profile == "" {
			profile = name
		}
		steps = append(steps,
			shellquote.Join("wsl", "-d", name, "--", executable, "provision", profile),
			shellquote.Join("wsl", "-d", name, "--", executable, "healthcheck"),
		)
	}
	return steps
}

// PrintNextSteps writes the next-step commands grouped per distro.
func PrintNextSteps(w io.Writer, results []Result, executable string) error {
	if len(results) == 0 {
		return nil
	}
	steps := NextSteps(results, executable)

	if _, err := fmt.Fprintln(w, "Next steps:"); err != nil {
		return err
	}
	for i, r := range results {
		if _, err := fmt.Fprintf(w, "\n  %s (default user %s)\n", r.Distro.Name, r.User); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "    %s\n    %s  # optional\n", steps[2*i], steps[2*i+1]); err != nil {
			return err
		}
	}
	return nil
}
