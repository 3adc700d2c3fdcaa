package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultInstallBase is where distros are installed unless configured otherwise.
const DefaultInstallBase = `C:\WSL`

var distroNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var packageLogger = slog.Default()

// SetLogger configures the logger used while loading and writing configuration.
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	packageLogger = logger
}

// DistroConfig names one distro and the profile it is provisioned with.
type DistroConfig struct {
	Name    string `yaml:"name"`
	Profile string `yaml:"profile"`
}

// ProvisionConfig describes the in-distro provisioning run.
type ProvisionConfig struct {
	RepoURL   string   `yaml:"repo_url"`
	RepoDir   string   `yaml:"repo_dir"`
	Playbook  string   `yaml:"playbook"`
	Inventory string   `yaml:"inventory"`
	Packages  []string `yaml:"packages"`
	Tools     []string `yaml:"tools"`
	Profiles  []string `yaml:"profiles"`
}

// Config is the complete kit configuration.
type Config struct {
	InstallBase     string          `yaml:"install_base"`
	WSLVersion      int             `yaml:"wsl_version"`
	WSLExecutable   string          `yaml:"wsl_executable"`
	ImageExtensions []string        `yaml:"image_extensions"`
	AdminUser       string          `yaml:"admin_user"`
	ReservedUsers   []string        `yaml:"reserved_users"`
	MinUID          int             `yaml:"min_uid"`
	FirstBoot       []string        `yaml:"first_boot_command"`
	StateDir        string          `yaml:"state_dir"`
	Distros         []DistroConfig  `yaml:"distros"`
	Provision       ProvisionConfig `yaml:"provision"`
}

// DefaultConfig returns the compiled-in configuration for the three personal distros.
func DefaultConfig() Config {
	return Config{
		InstallBase:     DefaultInstallBase,
		WSLVersion:      2,
		WSLExecutable:   "wsl.exe",
		ImageExtensions: []string{".tar"},
		AdminUser:       "root",
		ReservedUsers:   []string{"nobody"},
		MinUID:          1000,
		FirstBoot:       []string{"/usr/lib/wsl/oobe.sh"},
		StateDir:        "~/.wslkit",
		Distros: []DistroConfig{
			{Name: "work", Profile: "work"},
			{Name: "uni", Profile: "uni"},
			{Name: "private", Profile: "private"},
		},
		Provision: ProvisionConfig{
			RepoURL:   "https://github.com/cochaviz/dotfiles.git",
			RepoDir:   "~/src/dotfiles",
			Playbook:  "site.yml",
			Inventory: "localhost,",
			Packages:  []string{"git", "ansible-core", "python3"},
			Tools:     []string{"git", "sudo", "dnf"},
			Profiles:  []string{"work", "uni", "private"},
		},
	}
}

// DefaultConfigPath returns the per-user location of the configuration file.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, "wslkit", "config.yaml"), nil
}

// LoadConfig reads the YAML file at path on top of DefaultConfig. A missing
// file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			packageLogger.Debug("no configuration file, using defaults", "path", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	packageLogger.Debug("loaded configuration", "path", path, "distros", len(cfg.Distros))
	return cfg, nil
}

// WriteConfig persists cfg at path through a temporary file and rename.
func WriteConfig(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}

	packageLogger.Info("wrote configuration", "path", path)
	return nil
}

// Validate checks the invariants the bootstrapper and provisioner rely on.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.InstallBase) == "" {
		errs = append(errs, errors.New("install_base is required"))
	}
	if c.WSLVersion != 1 && c.WSLVersion != 2 {
		errs = append(errs, fmt.Errorf("wsl_version must be 1 or 2, got %d", c.WSLVersion))
	}
	if len(c.ImageExtensions) == 0 {
		errs = append(errs, errors.New("image_extensions must not be empty"))
	}
	if strings.TrimSpace(c.AdminUser) == "" {
		errs = append(errs, errors.New("admin_user is required"))
	}
	if c.MinUID < 1 {
		errs = append(errs, fmt.Errorf("min_uid must be positive, got %d", c.MinUID))
	}
	if len(c.FirstBoot) == 0 {
		errs = append(errs, errors.New("first_boot_command must not be empty"))
	}
	if len(c.Distros) == 0 {
		errs = append(errs, errors.New("at least one distro is required"))
	}

	seen := make(map[string]bool, len(c.Distros))
	for _, d := range c.Distros {
		if !distroNamePattern.MatchString(d.Name) {
			errs = append(errs, fmt.Errorf("invalid distro name %q", d.Name))
			continue
		}
		key := strings.ToLower(d.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate distro name %q", d.Name))
		}
		seen[key] = true
		if d.Profile != "" && !slices.Contains(c.Provision.Profiles, d.Profile) {
			errs = append(errs, fmt.Errorf("distro %q uses unknown profile %q", d.Name, d.Profile))
		}
	}

	return errors.Join(errs...)
}

// Distro returns the configuration of the named distro.
func (c Config) Distro(name string) (DistroConfig, bool) {
	for _, d := range c.Distros {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return DistroConfig{}, false
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
