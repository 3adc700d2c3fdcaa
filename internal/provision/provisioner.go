// Package provision sets up a distro from the inside: it fetches the
// provisioning repository, installs the base packages and applies the
// profile's playbook.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cochaviz/wslkit/internal/distro"
)

// Options describes one provisioning run.
type Options struct {
	Profile   string
	RepoURL   string
	RepoDir   string
	Playbook  string
	Inventory string
	Packages  []string

	SkipPackages  bool
	Check         bool
	AskBecomePass bool

	MarkerPath string
}

// Provisioner runs the provisioning steps through Runner.
type Provisioner struct {
	Runner Runner
	Logger *slog.Logger
}

func (p *Provisioner) logger() *slog.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Provision runs every step in order and stops at the first failure.
func (p *Provisioner) Provision(ctx context.Context, opts Options) error {
	logger := p.logger().With("profile", opts.Profile)

	logger.Info("preparing provisioning repository", "repo", opts.RepoURL, "dir", opts.RepoDir)
	if err := p.EnsureRepo(ctx, opts); err != nil {
		return err
	}

	if opts.SkipPackages {
		logger.Info("skipping package installation")
	} else if err := p.InstallPackages(ctx, opts); err != nil {
		return err
	}

	if err := p.RunPlaybook(ctx, opts); err != nil {
		return err
	}

	if opts.Check {
		logger.Info("check mode, profile marker not written")
		return nil
	}
	if err := WriteMarker(opts.MarkerPath, opts.Profile); err != nil {
		return err
	}

	logger.Info("provisioning completed")
	return nil
}

// EnsureRepo clones the repository when RepoDir does not exist yet and
// fast-forwards it otherwise.
func (p *Provisioner) EnsureRepo(ctx context.Context, opts Options) error {
	if opts.RepoDir == "" {
		return errors.New("repository directory is required")
	}

	_, err := os.Stat(filepath.Join(opts.RepoDir, ".git"))
	switch {
	case err == nil:
		p.logger().Debug("repository present, pulling", "dir", opts.RepoDir)
		if err := p.Runner.Run(ctx, "", "git", "-C", opts.RepoDir, "pull", "--ff-only"); err != nil {
			return fmt.Errorf("update %s: %w", opts.RepoDir, err)
		}
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("inspect %s: %w", opts.RepoDir, err)
	}

	entries, err := os.ReadDir(opts.RepoDir)
	if err == nil && len(entries) > 0 {
		return &distro.PreconditionError{
			Message: fmt.Sprintf("%s exists but is not a git repository", opts.RepoDir),
			Remedy:  "move it out of the way or pass a different --repo-dir",
		}
	}
	if opts.RepoURL == "" {
		return errors.New("repository URL is required to clone")
	}

	if err := os.MkdirAll(filepath.Dir(opts.RepoDir), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", opts.RepoDir, err)
	}
	if err := p.Runner.Run(ctx, "", "git", "clone", opts.RepoURL, opts.RepoDir); err != nil {
		return fmt.Errorf("clone %s: %w", opts.RepoURL, err)
	}
	return nil
}

// InstallPackages installs the base packages with dnf.
func (p *Provisioner) InstallPackages(ctx context.Context, opts Options) error {
	if len(opts.Packages) == 0 {
		return nil
	}

	p.logger().Info("installing packages", "packages", strings.Join(opts.Packages, " "))
	args := append([]string{"dnf", "install", "-y"}, opts.Packages...)
	if err := p.Runner.Run(ctx, "", "sudo", args...); err != nil {
		return fmt.Errorf("install packages: %w", err)
	}
	return nil
}

// RunPlaybook applies the profile's playbook from inside the repository.
func (p *Provisioner) RunPlaybook(ctx context.Context, opts Options) error {
	if opts.Playbook == "" {
		return errors.New("playbook is required")
	}

	args := PlaybookArgs(opts)
	p.logger().Info("running playbook", "playbook", opts.Playbook, "check", opts.Check)
	if err := p.Runner.Run(ctx, opts.RepoDir, "ansible-playbook", args...); err != nil {
		return fmt.Errorf("playbook %s: %w", opts.Playbook, err)
	}
	return nil
}

// PlaybookArgs returns the ansible-playbook arguments for opts.
func PlaybookArgs(opts Options) []string {
	var args []string
	if opts.Inventory != "" {
		args = append(args, "-i", opts.Inventory)
	}
	args = append(args, opts.Playbook, "-e", "profile="+opts.Profile)
	if opts.Check {
		args = append(args, "--check", "--diff")
	}
	if opts.AskBecomePass {
		args = append(args, "--ask-become-pass")
	}
	return args
}
