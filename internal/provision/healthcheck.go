package provision

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cochaviz/wslkit/internal/wslconf"
)

// HealthOptions selects what Healthcheck inspects.
type HealthOptions struct {
	Env        Environment
	Runner     Runner
	Tools      []string
	ConfPath   string
	AdminUser  string
	MarkerPath string
	RepoDir    string
}

// Check is the outcome of one health check.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Report collects health check outcomes in the order they ran.
type Report struct {
	Checks []Check
}

func (r *Report) add(name string, ok bool, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, OK: ok, Detail: fmt.Sprintf(format, args...)})
}

// Failed returns the checks that did not pass.
func (r Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.OK {
			failed = append(failed, c)
		}
	}
	return failed
}

// Err summarises failed checks, or returns nil when all passed.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, c := range failed {
		names = append(names, c.Name)
	}
	return fmt.Errorf("%d health check(s) failed: %s", len(failed), strings.Join(names, ", "))
}

// Write prints one line per check.
func (r Report) Write(w io.Writer) error {
	for _, c := range r.Checks {
		status := "ok"
		if !c.OK {
			status = "FAIL"
		}
		if _, err := fmt.Fprintf(w, "%-4s  %-16s %s\n", status, c.Name, c.Detail); err != nil {
			return err
		}
	}
	return nil
}

// Healthcheck inspects the distro from the inside.
func Healthcheck(ctx context.Context, opts HealthOptions) Report {
	var report Report

	if euid := opts.Env.euid(); euid == 0 {
		report.add("non-root", false, "running as root")
	} else {
		report.add("non-root", true, "running as a regular user")
	}

	for _, tool := range opts.Tools {
		path, err := opts.Env.lookPath(tool)
		if err != nil {
			report.add("tool "+tool, false, "not found on PATH")
			continue
		}
		report.add("tool "+tool, true, "%s", path)
	}

	confPath := opts.ConfPath
	if confPath == "" {
		confPath = wslconf.DefaultPath
	}
	user, ok, err := wslconf.ReadDefaultUser(confPath)
	switch {
	case err != nil:
		report.add("default user", false, "%v", err)
	case !ok:
		report.add("default user", false, "no [user] default in %s", confPath)
	case user == opts.AdminUser:
		report.add("default user", false, "default user is %s", user)
	default:
		report.add("default user", true, "%s", user)
	}

	if opts.MarkerPath != "" {
		profile, err := ReadMarker(opts.MarkerPath)
		switch {
		case err != nil:
			report.add("profile", false, "%v", err)
		case profile == "":
			report.add("profile", false, "not provisioned yet")
		default:
			report.add("profile", true, "%s", profile)
		}
	}

	if opts.RepoDir != "" && opts.Runner != nil {
		out, err := opts.Runner.Output(ctx, "", "git", "-C", opts.RepoDir, "status", "--porcelain")
		switch {
		case ctx.Err() != nil:
			report.add("repository", false, "interrupted")
		case err != nil:
			report.add("repository", false, "%s is not a usable git checkout", opts.RepoDir)
		case strings.TrimSpace(out) != "":
			report.add("repository", true, "%s has local changes", opts.RepoDir)
		default:
			report.add("repository", true, "%s is clean", opts.RepoDir)
		}
	}

	return report
}
