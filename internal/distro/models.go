package distro

import (
	"time"
)

// State is a step in a distro's bootstrap lifecycle.
type State string

const (
	StateAbsent              State = "absent"
	StateImported            State = "imported"
	StateFirstBootConfigured State = "first-boot-configured"
	StateDefaultUserSet      State = "default-user-set"
	StateRunning             State = "running"
)

// Distro is one WSL distribution managed by the kit.
type Distro struct {
	Name       string
	Profile    string
	InstallDir string
	Image      string
}

// UserRecord is a passwd entry inside a distro.
type UserRecord struct {
	Name string
	UID  int
}

// CommandResult is the outcome of a command run inside a distro.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr.
func (r CommandResult) Combined() string {
	return r.Stdout + r.Stderr
}

// Result summarises one converged distro.
type Result struct {
	Distro   Distro
	User     string
	Imported bool
	State    State
}

// RunRecord is the persisted history entry of one distro bootstrap.
type RunRecord struct {
	ID        string    `json:"id"`
	Distro    string    `json:"distro"`
	Image     string    `json:"image"`
	User      string    `json:"user,omitempty"`
	Imported  bool      `json:"imported"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Options carries the settings the bootstrapper needs from the kit configuration.
type Options struct {
	InstallBase     string
	WSLVersion      int
	ImageExtensions []string
	AdminUser       string
	ReservedUsers   []string
	MinUID          int
	FirstBoot       []string
	ConfPath        string
}
