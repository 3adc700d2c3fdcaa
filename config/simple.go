package simple

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cochaviz/wslkit/internal/distro"
	"github.com/cochaviz/wslkit/internal/distro/wslexe"
	"github.com/cochaviz/wslkit/internal/logging"
	"github.com/cochaviz/wslkit/internal/provision"
	"github.com/cochaviz/wslkit/internal/repositories/local"
	"github.com/cochaviz/wslkit/internal/setup"
)

// BootstrapRequest carries the command-line choices of one bootstrap run.
type BootstrapRequest struct {
	Image   string
	Distros []string
}

// RunRepository returns the run history store below the configured state dir.
func RunRepository(cfg setup.Config) (*local.LocalRunRepository, error) {
	dir, err := setup.ExpandHome(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	return &local.LocalRunRepository{BaseDir: filepath.Join(dir, "runs")}, nil
}

// NewHost returns the wsl.exe backed host for cfg.
func NewHost(cfg setup.Config, logger *slog.Logger) *wslexe.Host {
	return wslexe.New(cfg.WSLExecutable, logging.Ensure(logger).With("driver", "wsl.exe"))
}

// SelectDistros returns the configured distros named in names, in configured
// order. No names selects all of them.
func SelectDistros(cfg setup.Config, names []string) ([]setup.DistroConfig, error) {
	if len(names) == 0 {
		return cfg.Distros, nil
	}

	for _, name := range names {
		if _, ok := cfg.Distro(name); !ok {
			known := make([]string, 0, len(cfg.Distros))
			for _, d := range cfg.Distros {
				known = append(known, d.Name)
			}
			return nil, &distro.ValidationError{Message: fmt.Sprintf("unknown distro %q (configured: %s)", name, strings.Join(known, ", "))}
		}
	}

	selected := make([]setup.DistroConfig, 0, len(names))
	for _, d := range cfg.Distros {
		if slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, d.Name) }) {
			selected = append(selected, d)
		}
	}
	return selected, nil
}

// NewBootstrapper wires a bootstrapper from cfg.
func NewBootstrapper(cfg setup.Config, host distro.Host, prompter distro.Prompter, runs distro.RunRepository, logger *slog.Logger) *distro.Bootstrapper {
	return &distro.Bootstrapper{
		Host:     host,
		Prompter: prompter,
		Runs:     runs,
		Logger:   logging.Ensure(logger).With("service", "bootstrap"),
		Options: distro.Options{
			InstallBase:     cfg.InstallBase,
			WSLVersion:      cfg.WSLVersion,
			ImageExtensions: cfg.ImageExtensions,
			AdminUser:       cfg.AdminUser,
			ReservedUsers:   cfg.ReservedUsers,
			MinUID:          cfg.MinUID,
			FirstBoot:       cfg.FirstBoot,
		},
	}
}

// Bootstrap imports and configures the requested distros through host.
func Bootstrap(ctx context.Context, cfg setup.Config, req BootstrapRequest, host distro.Host, prompter distro.Prompter, logger *slog.Logger) ([]distro.Result, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	selected, err := SelectDistros(cfg, req.Distros)
	if err != nil {
		return nil, err
	}

	image, err := filepath.Abs(req.Image)
	if err != nil {
		return nil, fmt.Errorf("resolve image path: %w", err)
	}

	runs, err := RunRepository(cfg)
	if err != nil {
		return nil, err
	}

	b := NewBootstrapper(cfg, host, prompter, runs, logger)
	distros := make([]distro.Distro, 0, len(selected))
	for _, d := range selected {
		distros = append(distros, b.NewDistro(d.Name, d.Profile, image))
	}

	logger.Info("starting bootstrap", "image", image, "distros", len(distros), "install_base", cfg.InstallBase)
	return b.Bootstrap(ctx, image, distros)
}

// StatusEntry describes one configured distro as seen from the host.
type StatusEntry struct {
	Name        string
	Profile     string
	Registered  bool
	DefaultUser string
	LastRun     *distro.RunRecord
}

// Status reports registration, default user and the last recorded run of
// every configured distro. Distros are not started unless registered.
func Status(ctx context.Context, cfg setup.Config, host distro.Host, runs distro.RunRepository, logger *slog.Logger) ([]StatusEntry, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	entries := make([]StatusEntry, 0, len(cfg.Distros))
	for _, d := range cfg.Distros {
		entry := StatusEntry{Name: d.Name, Profile: d.Profile}

		registered, err := host.IsRegistered(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		entry.Registered = registered

		if registered {
			user, err := host.QueryDefaultUser(ctx, d.Name)
			if err != nil {
				logger.Warn("could not query default user", "distro", d.Name, "error", err)
			}
			entry.DefaultUser = user
		}

		if runs != nil {
			last, err := runs.LatestForDistro(d.Name)
			if err != nil {
				return nil, err
			}
			entry.LastRun = last
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ProvisionRequest carries the command-line choices of one provisioning run.
type ProvisionRequest struct {
	Profile       string
	RepoURL       string
	RepoDir       string
	SkipPackages  bool
	Check         bool
	AskBecomePass bool
}

// ProvisionOptions resolves req against cfg.
func ProvisionOptions(cfg setup.Config, req ProvisionRequest) (provision.Options, error) {
	opts := provision.Options{
		Profile:       req.Profile,
		RepoURL:       firstNonEmpty(req.RepoURL, cfg.Provision.RepoURL),
		Playbook:      cfg.Provision.Playbook,
		Inventory:     cfg.Provision.Inventory,
		Packages:      cfg.Provision.Packages,
		SkipPackages:  req.SkipPackages,
		Check:         req.Check,
		AskBecomePass: req.AskBecomePass,
	}

	repoDir, err := resolveRepoDir(firstNonEmpty(req.RepoDir, cfg.Provision.RepoDir))
	if err != nil {
		return provision.Options{}, err
	}
	opts.RepoDir = repoDir

	marker, err := provision.DefaultMarkerPath()
	if err != nil {
		return provision.Options{}, err
	}
	opts.MarkerPath = marker
	return opts, nil
}

// Provision validates the profile and preconditions, then provisions the
// current distro.
func Provision(ctx context.Context, cfg setup.Config, req ProvisionRequest, env provision.Environment, runner provision.Runner, logger *slog.Logger) error {
	logger = logging.Ensure(logger).With("component", "config.simple")

	if err := provision.ValidateProfile(req.Profile, cfg.Provision.Profiles); err != nil {
		return err
	}
	if err := provision.CheckPreconditions(env, cfg.Provision.Tools); err != nil {
		return err
	}

	opts, err := ProvisionOptions(cfg, req)
	if err != nil {
		return err
	}

	p := &provision.Provisioner{Runner: runner, Logger: logger.With("service", "provision")}
	return p.Provision(ctx, opts)
}

// Healthcheck inspects the current distro.
func Healthcheck(ctx context.Context, cfg setup.Config, env provision.Environment, runner provision.Runner) (provision.Report, error) {
	repoDir, err := resolveRepoDir(cfg.Provision.RepoDir)
	if err != nil {
		return provision.Report{}, err
	}
	marker, err := provision.DefaultMarkerPath()
	if err != nil {
		return provision.Report{}, err
	}

	tools := append(slices.Clone(cfg.Provision.Tools), "ansible-playbook")
	return provision.Healthcheck(ctx, provision.HealthOptions{
		Env:        env,
		Runner:     runner,
		Tools:      tools,
		AdminUser:  cfg.AdminUser,
		MarkerPath: marker,
		RepoDir:    repoDir,
	}), nil
}

// resolveRepoDir expands "~" and anchors relative paths at the home directory.
func resolveRepoDir(dir string) (string, error) {
	expanded, err := setup.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	if expanded == "" || filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return setup.ExpandHome(filepath.Join("~", expanded))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
