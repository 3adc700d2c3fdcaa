package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	simple "github.com/cochaviz/wslkit/config"
	"github.com/cochaviz/wslkit/internal/distro"
	"github.com/cochaviz/wslkit/internal/logging"
	"github.com/cochaviz/wslkit/internal/prompt"
	"github.com/cochaviz/wslkit/internal/provision"
	"github.com/cochaviz/wslkit/internal/setup"
	"github.com/cochaviz/wslkit/internal/wslconf"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.New(logging.FormatCLI, os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{logger: logger, level: &levelVar, stderr: os.Stderr}
	os.Exit(a.run(ctx, os.Args[1:]))
}

// app holds what every command shares once the root flags are parsed.
type app struct {
	logger *slog.Logger
	level  *slog.LevelVar
	stderr io.Writer

	configPath string
	cfg        setup.Config

	// Overridable in tests.
	host   distro.Host
	runner provision.Runner
	env    *provision.Environment
}

func (a *app) run(ctx context.Context, args []string) int {
	return a.runCommand(ctx, a.newRootCommand(), args)
}

// runCommand executes root and maps its error to an exit status.
func (a *app) runCommand(ctx context.Context, root *cobra.Command, args []string) int {
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		a.logger.Warn("command interrupted")
		return 130
	}

	a.logger.Error("command failed", "error", err)
	if remedy := distro.Remedy(err); remedy != "" {
		fmt.Fprintf(a.stderr, "hint: %s\n", remedy)
	}
	return 1
}

func (a *app) newRootCommand() *cobra.Command {
	logLevel := defaultLogLevel
	logFormat := "cli"

	root := &cobra.Command{
		Use:           "wslkit",
		Short:         "Bootstrap and provision the personal WSL distros",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", logFormat, "Set log format (cli, json)")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the wslkit configuration file")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		format, err := logging.ParseFormat(logFormat)
		if err != nil {
			return err
		}
		if a.level != nil {
			a.level.Set(level)
		}
		if format != logging.FormatCLI {
			a.logger = logging.New(format, a.stderr, a.level)
			slog.SetDefault(a.logger)
		}
		setup.SetLogger(a.logger.With(logging.ComponentKey, "setup"))

		if a.configPath == "" {
			path, err := setup.DefaultConfigPath()
			if err != nil {
				return err
			}
			a.configPath = path
		}
		cfg, err := setup.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		return nil
	}

	root.AddCommand(
		a.newBootstrapCommand(),
		a.newStatusCommand(),
		a.newProvisionCommand(),
		a.newHealthcheckCommand(),
		a.newWSLConfCommand(),
		a.newConfigCommand(),
	)
	return root
}

func (a *app) distroHost() distro.Host {
	if a.host != nil {
		return a.host
	}
	return simple.NewHost(a.cfg, a.logger)
}

func (a *app) provisionRunner(cmd *cobra.Command) provision.Runner {
	if a.runner != nil {
		return a.runner
	}
	return &provision.ExecRunner{
		Stdin:  cmd.InOrStdin(),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Logger: a.logger.With("driver", "exec"),
	}
}

func (a *app) environment() provision.Environment {
	if a.env != nil {
		return *a.env
	}
	return provision.SystemEnvironment()
}

func (a *app) newBootstrapCommand() *cobra.Command {
	var (
		installBase string
		distros     []string
		wslExe      string
		user        string
		oobeCommand string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap <image-path>",
		Args:  cobra.ExactArgs(1),
		Short: "Import the distros from an image and configure their default user",
		RunE: func(cmd *cobra.Command, args []string) error {
			image := strings.TrimSpace(args[0])
			if image == "" {
				return &distro.PreconditionError{Message: "image path is required", Remedy: "pass the path to the distro image"}
			}

			cfg := a.cfg
			if installBase != "" {
				cfg.InstallBase = installBase
			}
			if wslExe != "" {
				cfg.WSLExecutable = wslExe
			}
			if oobeCommand != "" {
				cfg.FirstBoot = strings.Fields(oobeCommand)
			}

			var prompter distro.Prompter = prompt.NewTerminal()
			if user != "" {
				prompter = &prompt.Fixed{Answers: []string{user}, Repeat: true}
			}

			cmdLogger := a.logger.With("command", "bootstrap")
			host := a.host
			if host == nil {
				host = simple.NewHost(cfg, a.logger)
			}
			results, err := simple.Bootstrap(cmd.Context(), cfg, simple.BootstrapRequest{
				Image:   image,
				Distros: distros,
			}, host, prompter, cmdLogger)
			if err != nil {
				return err
			}

			cmdLogger.Info("bootstrap completed", "distros", len(results))
			return distro.PrintNextSteps(cmd.OutOrStdout(), results, "wslkit")
		},
	}

	cmd.Flags().StringVar(&installBase, "install-base", "", "Parent directory of the per-distro install directories")
	cmd.Flags().StringArrayVar(&distros, "distro", nil, "Only bootstrap this configured distro; repeat to select several")
	cmd.Flags().StringVar(&wslExe, "wsl-exe", "", "Path to wsl.exe")
	cmd.Flags().StringVar(&user, "user", "", "Default user to pick when a distro has several users")
	cmd.Flags().StringVar(&oobeCommand, "oobe-command", "", "First-boot command to run inside each new distro")

	return cmd
}

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Args:  cobra.NoArgs,
		Short: "Show registration, default user and last bootstrap of each distro",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := simple.RunRepository(a.cfg)
			if err != nil {
				return err
			}
			entries, err := simple.Status(cmd.Context(), a.cfg, a.distroHost(), runs, a.logger.With("command", "status"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DISTRO\tPROFILE\tREGISTERED\tDEFAULT USER\tLAST RUN")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", e.Name, e.Profile, e.Registered, orDash(e.DefaultUser), describeRun(e.LastRun))
			}
			return w.Flush()
		},
	}
}

func describeRun(r *distro.RunRecord) string {
	if r == nil {
		return "-"
	}
	when := r.CreatedAt.Local().Format("2006-01-02 15:04")
	if r.Error != "" {
		return fmt.Sprintf("%s failed at %s", when, r.State)
	}
	return fmt.Sprintf("%s %s", when, r.State)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (a *app) newProvisionCommand() *cobra.Command {
	var req simple.ProvisionRequest

	cmd := &cobra.Command{
		Use:   "provision <profile>",
		Args:  cobra.ExactArgs(1),
		Short: "Provision the current distro with a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Profile = strings.TrimSpace(args[0])
			cmdLogger := a.logger.With("command", "provision", "profile", req.Profile)

			if err := simple.Provision(cmd.Context(), a.cfg, req, a.environment(), a.provisionRunner(cmd), cmdLogger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %s applied. Run 'wslkit healthcheck' to verify.\n", req.Profile)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.RepoURL, "repo-url", "", "Provisioning repository to clone")
	cmd.Flags().StringVar(&req.RepoDir, "repo-dir", "", "Checkout directory; relative paths are resolved against the home directory")
	cmd.Flags().BoolVar(&req.SkipPackages, "skip-packages", false, "Do not install base packages with dnf")
	cmd.Flags().BoolVar(&req.Check, "check", false, "Run the playbook in check mode and show the diff")
	cmd.Flags().BoolVar(&req.AskBecomePass, "ask-become-pass", false, "Ask for the sudo password before running the playbook")

	return cmd
}

func (a *app) newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Args:  cobra.NoArgs,
		Short: "Check the current distro after provisioning",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := simple.Healthcheck(cmd.Context(), a.cfg, a.environment(), a.provisionRunner(cmd))
			if err != nil {
				return err
			}
			if err := report.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			return report.Err()
		},
	}
}

func (a *app) newWSLConfCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wslconf",
		Short: "Inspect or edit wsl.conf from inside a distro",
	}

	var setPath string
	set := &cobra.Command{
		Use:   "set <username>",
		Args:  cobra.ExactArgs(1),
		Short: "Set the default user, keeping the rest of the file intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := strings.TrimSpace(args[0])
			if err := wslconf.MergeFile(setPath, user); err != nil {
				var invalid *wslconf.InvalidUsernameError
				if errors.As(err, &invalid) {
					return &distro.ValidationError{Message: err.Error()}
				}
				return err
			}
			a.logger.Info("default user written", "path", setPath, "user", user)
			fmt.Fprintln(cmd.OutOrStdout(), "Restart the distro (wsl --terminate <name>) for the change to take effect.")
			return nil
		},
	}
	set.Flags().StringVar(&setPath, "file", wslconf.DefaultPath, "Path of the file to edit")

	var showPath string
	show := &cobra.Command{
		Use:   "show",
		Args:  cobra.NoArgs,
		Short: "Print the configured default user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, ok, err := wslconf.ReadDefaultUser(showPath)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no default user set in %s", showPath)
			}
			fmt.Fprintln(cmd.OutOrStdout(), user)
			return nil
		},
	}
	show.Flags().StringVar(&showPath, "file", wslconf.DefaultPath, "Path of the file to read")

	cmd.AddCommand(set, show)
	return cmd
}

func (a *app) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the wslkit configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Args:  cobra.NoArgs,
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				a.logger.Info("configuration already exists", "path", a.configPath, "hint", "use --force to overwrite")
				return nil
			}
			if err := setup.WriteConfig(a.configPath, setup.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")

	show := &cobra.Command{
		Use:   "show",
		Args:  cobra.NoArgs,
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.AddCommand(initCmd, show)
	return cmd
}
