// Package distro converges WSL distributions into their bootstrapped state:
// imported from an image, first-boot setup completed, a non-root default user
// written to wsl.conf and verified after a restart.
//
// Distros are processed one at a time, strictly in order. Nothing is rolled
// back when a step fails; rerunning is safe because every step checks the
// current state first.
package distro

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cochaviz/wslkit/internal/wslconf"

	"github.com/google/uuid"
)

// Bootstrapper drives a Host through the bootstrap lifecycle.
type Bootstrapper struct {
	Host     Host
	Prompter Prompter
	Runs     RunRepository
	Options  Options
	Logger   *slog.Logger

	now func() time.Time
}

func (b *Bootstrapper) logger() *slog.Logger {
	if b != nil && b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bootstrapper) confPath() string {
	if b.Options.ConfPath != "" {
		return b.Options.ConfPath
	}
	return wslconf.DefaultPath
}

func (b *Bootstrapper) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// NewDistro derives the install directory of a distro from the install base.
func (b *Bootstrapper) NewDistro(name, profile, image string) Distro {
	return Distro{
		Name:       name,
		Profile:    profile,
		InstallDir: filepath.Join(b.Options.InstallBase, name),
		Image:      image,
	}
}

// ValidateImage checks that path names a non-empty regular file with one of
// the accepted image extensions.
func (b *Bootstrapper) ValidateImage(path string) error {
	if strings.TrimSpace(path) == "" {
		return &PreconditionError{
			Message: "image path is required",
			Remedy:  "pass the path to the distro image as the only argument",
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &PreconditionError{
				Message: fmt.Sprintf("image %s does not exist", path),
				Remedy:  "download the distro image first and pass its full path",
			}
		}
		return fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return &PreconditionError{
			Message: fmt.Sprintf("image path %s is a directory", path),
			Remedy:  "pass the image file itself, not the directory containing it",
		}
	}
	if !info.Mode().IsRegular() {
		return &PreconditionError{
			Message: fmt.Sprintf("image path %s is not a regular file", path),
			Remedy:  "pass a regular image file",
		}
	}

	lower := strings.ToLower(path)
	matched := slices.ContainsFunc(b.Options.ImageExtensions, func(ext string) bool {
		return strings.HasSuffix(lower, strings.ToLower(ext))
	})
	if !matched {
		return &PreconditionError{
			Message: fmt.Sprintf("image %s does not have an accepted extension (%s)", path, strings.Join(b.Options.ImageExtensions, ", ")),
			Remedy:  "export or download the distro as a supported image file",
		}
	}
	if info.Size() == 0 {
		return &PreconditionError{
			Message: fmt.Sprintf("image %s is empty", path),
			Remedy:  "the download was probably interrupted; fetch the image again",
		}
	}
	return nil
}

// EnsureImported registers d with the host unless a distro of that name
// already exists. It reports whether an import took place.
func (b *Bootstrapper) EnsureImported(ctx context.Context, d Distro) (bool, error) {
	logger := b.logger().With("distro", d.Name)

	registered, err := b.Host.IsRegistered(ctx, d.Name)
	if err != nil {
		return false, fmt.Errorf("check registration of %s: %w", d.Name, err)
	}
	if registered {
		logger.Info("distro already registered, skipping import")
		return false, nil
	}

	if err := os.MkdirAll(d.InstallDir, 0o755); err != nil {
		return false, fmt.Errorf("create install directory %s: %w", d.InstallDir, err)
	}

	logger.Info("importing distro", "install_dir", d.InstallDir, "image", d.Image, "version", b.Options.WSLVersion)
	if err := b.Host.ImportDistro(ctx, d.Name, d.InstallDir, d.Image, b.Options.WSLVersion); err != nil {
		return false, err
	}
	logger.Info("distro imported")
	return true, nil
}

// RunFirstBoot runs the interactive first-boot setup and returns the non-root
// users that exist afterwards. The exit status of the setup script is not
// trusted; only the presence of a non-root user counts as success.
func (b *Bootstrapper) RunFirstBoot(ctx context.Context, d Distro) ([]string, error) {
	logger := b.logger().With("distro", d.Name)

	logger.Info("running first-boot setup; create your user account when prompted", "command", strings.Join(b.Options.FirstBoot, " "))
	if err := b.Host.RunInteractive(ctx, d.Name, b.Options.AdminUser, b.Options.FirstBoot...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn("first-boot setup returned an error; checking for created users", "error", err)
	}

	candidates, err := b.DiscoverUsers(ctx, d)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &PostconditionError{
			Distro:  d.Name,
			Message: "first-boot setup finished but no non-root user exists",
			Remedy:  fmt.Sprintf("rerun the bootstrap and complete account creation for %s", d.Name),
		}
	}

	logger.Info("first-boot setup completed", "users", strings.Join(candidates, ","))
	return candidates, nil
}

// DiscoverUsers lists the non-root login candidates of d in passwd order.
// The returned slice is never nil.
func (b *Bootstrapper) DiscoverUsers(ctx context.Context, d Distro) ([]string, error) {
	content, err := b.readPasswd(ctx, d)
	if err != nil {
		return nil, err
	}

	records := ParsePasswd(content)
	candidates := FilterCandidates(records, b.Options.MinUID, b.Options.ReservedUsers)

	b.logger().Debug("discovered users", "distro", d.Name, "records", len(records), "candidates", len(candidates))
	return candidates, nil
}

func (b *Bootstrapper) readPasswd(ctx context.Context, d Distro) (string, error) {
	getent := []string{"getent", "passwd"}
	result, err := b.Host.RunInSession(ctx, d.Name, b.Options.AdminUser, nil, getent...)
	if err != nil {
		return "", fmt.Errorf("list users of %s: %w", d.Name, err)
	}
	if result.ExitCode == 0 {
		return result.Stdout, nil
	}

	b.logger().Debug("getent failed, reading /etc/passwd", "distro", d.Name, "exit_code", result.ExitCode)
	cat := []string{"cat", "/etc/passwd"}
	result, err = b.Host.RunInSession(ctx, d.Name, b.Options.AdminUser, nil, cat...)
	if err != nil {
		return "", fmt.Errorf("list users of %s: %w", d.Name, err)
	}
	if result.ExitCode != 0 {
		return "", &CommandError{Args: cat, Output: result.Combined(), ExitCode: result.ExitCode}
	}
	return result.Stdout, nil
}

// SelectDefaultUser picks the default user among candidates. A single
// candidate is chosen automatically; otherwise the operator is asked, with
// one retry when the answer does not name an existing user.
func (b *Bootstrapper) SelectDefaultUser(ctx context.Context, d Distro, candidates []string) (string, error) {
	logger := b.logger().With("distro", d.Name)

	switch len(candidates) {
	case 0:
		return "", &PostconditionError{
			Distro:  d.Name,
			Message: "no non-root user to select",
			Remedy:  fmt.Sprintf("rerun the bootstrap and complete account creation for %s", d.Name),
		}
	case 1:
		logger.Info("auto-selected the only non-root user", "user", candidates[0])
		return candidates[0], nil
	}

	if b.Prompter == nil {
		return "", &ValidationError{Message: fmt.Sprintf("%s has several users (%s) and no prompt is available", d.Name, strings.Join(candidates, ", "))}
	}

	suggestion := candidates[0]
	question := fmt.Sprintf("Default user for %s (found: %s)", d.Name, strings.Join(candidates, ", "))

	const attempts = 2
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		answer, err := b.Prompter.Ask(question, suggestion)
		if err != nil {
			return "", fmt.Errorf("prompt for default user: %w", err)
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			answer = suggestion
		}

		exists, err := b.userExists(ctx, d, answer)
		if err != nil {
			return "", err
		}
		if exists {
			logger.Info("selected default user", "user", answer)
			return answer, nil
		}

		lastErr = fmt.Errorf("user %q does not exist in %s", answer, d.Name)
		logger.Warn("rejected default user", "user", answer, "attempt", attempt)
	}

	return "", &ValidationError{Message: lastErr.Error()}
}

func (b *Bootstrapper) userExists(ctx context.Context, d Distro, name string) (bool, error) {
	if err := wslconf.ValidateUsername(name); err != nil {
		return false, nil
	}
	result, err := b.Host.RunInSession(ctx, d.Name, b.Options.AdminUser, nil, "id", "-u", name)
	if err != nil {
		return false, fmt.Errorf("look up user %s in %s: %w", name, d.Name, err)
	}
	return result.ExitCode == 0, nil
}

// ApplyDefaultUser writes user as the default user into the distro's
// wsl.conf, leaving the rest of the file intact.
func (b *Bootstrapper) ApplyDefaultUser(ctx context.Context, d Distro, user string) error {
	if err := wslconf.ValidateUsername(user); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	path := b.confPath()
	current, err := b.readConf(ctx, d, path)
	if err != nil {
		return err
	}

	merged, err := wslconf.Merge(current, user)
	if err != nil {
		return err
	}

	script := installScript(path)
	argv := []string{"sh", "-c", script}
	result, err := b.Host.RunInSession(ctx, d.Name, b.Options.AdminUser, strings.NewReader(string(merged)), argv...)
	if err != nil {
		return fmt.Errorf("write %s in %s: %w", path, d.Name, err)
	}
	if result.ExitCode != 0 {
		return &CommandError{Args: argv, Output: result.Combined(), ExitCode: result.ExitCode}
	}

	b.logger().Info("wrote default user", "distro", d.Name, "user", user, "path", path)
	return nil
}

func (b *Bootstrapper) readConf(ctx context.Context, d Distro, path string) ([]byte, error) {
	test := []string{"test", "-e", path}
	result, err := b.Host.RunInSession(ctx, d.Name, b.Options.AdminUser, nil, test...)
	if err != nil {
		return nil, fmt.Errorf("check %s in %s: %w", path, d.Name, err)
	}
	if result.ExitCode != 0 {
		b.logger().Debug("configuration file missing, creating it", "distro", d.Name, "path", path)
		return nil, nil
	}

	cat := []string{"cat", path}
	result, err = b.Host.RunInSession(ctx, d.Name, b.Options.AdminUser, nil, cat...)
	if err != nil {
		return nil, fmt.Errorf("read %s in %s: %w", path, d.Name, err)
	}
	if result.ExitCode != 0 {
		return nil, &CommandError{Args: cat, Output: result.Combined(), ExitCode: result.ExitCode}
	}
	return []byte(result.Stdout), nil
}

// installScript reads the new file from stdin and moves it over path.
func installScript(path string) string {
	quoted := "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
	return fmt.Sprintf(`tmp=$(mktemp %[1]s.XXXXXX) || exit 1
if cat > "$tmp" && chmod %04o "$tmp" && mv -f "$tmp" %[1]s; then
	exit 0
fi
rm -f "$tmp"
exit 1`, quoted, uint32(wslconf.FileMode.Perm()))
}

// Verify restarts d and checks that it no longer logs in as the admin user.
func (b *Bootstrapper) Verify(ctx context.Context, d Distro, expected string) (string, error) {
	logger := b.logger().With("distro", d.Name)

	if err := b.Host.Terminate(ctx, d.Name); err != nil {
		return "", fmt.Errorf("terminate %s: %w", d.Name, err)
	}

	user, err := b.Host.QueryDefaultUser(ctx, d.Name)
	if err != nil {
		return "", fmt.Errorf("query default user of %s: %w", d.Name, err)
	}
	if user == b.Options.AdminUser {
		return "", &PostconditionError{
			Distro:  d.Name,
			Message: fmt.Sprintf("default user is still %s after restart; the wsl.conf change did not take effect", user),
			Remedy:  fmt.Sprintf("inspect %s inside %s and rerun the bootstrap", b.confPath(), d.Name),
		}
	}
	if expected != "" && user != expected {
		logger.Warn("default user differs from the selected user", "selected", expected, "actual", user)
	}

	logger.Info("verified default user", "user", user)
	return user, nil
}

// Converge runs the full lifecycle for a single distro.
func (b *Bootstrapper) Converge(ctx context.Context, d Distro) (Result, error) {
	result := Result{Distro: d, State: StateAbsent}

	imported, err := b.EnsureImported(ctx, d)
	if err != nil {
		return result, err
	}
	result.Imported = imported
	result.State = StateImported

	var user string
	if !imported {
		user, err = b.existingDefaultUser(ctx, d)
		if err != nil {
			return result, err
		}
	}

	if user == "" {
		candidates, err := b.RunFirstBoot(ctx, d)
		if err != nil {
			return result, err
		}
		result.State = StateFirstBootConfigured

		user, err = b.SelectDefaultUser(ctx, d, candidates)
		if err != nil {
			return result, err
		}
	} else {
		result.State = StateFirstBootConfigured
	}

	if err := b.ApplyDefaultUser(ctx, d, user); err != nil {
		return result, err
	}
	result.State = StateDefaultUserSet

	verified, err := b.Verify(ctx, d, user)
	if err != nil {
		return result, err
	}
	result.User = verified
	result.State = StateRunning
	return result, nil
}

// existingDefaultUser returns the current default user of an already
// registered distro when it is a discovered non-root user, or "".
func (b *Bootstrapper) existingDefaultUser(ctx context.Context, d Distro) (string, error) {
	current, err := b.Host.QueryDefaultUser(ctx, d.Name)
	if err != nil {
		b.logger().Debug("could not query current default user", "distro", d.Name, "error", err)
		return "", nil
	}
	if current == "" || current == b.Options.AdminUser {
		return "", nil
	}

	candidates, err := b.DiscoverUsers(ctx, d)
	if err != nil {
		return "", err
	}
	if !slices.Contains(candidates, current) {
		return "", nil
	}

	b.logger().Info("first-boot setup already completed", "distro", d.Name, "user", current)
	return current, nil
}

// Bootstrap validates image and converges every distro in order, stopping at
// the first failure.
func (b *Bootstrapper) Bootstrap(ctx context.Context, image string, distros []Distro) ([]Result, error) {
	if err := b.ValidateImage(image); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.Options.InstallBase, 0o755); err != nil {
		return nil, fmt.Errorf("create install base %s: %w", b.Options.InstallBase, err)
	}

	results := make([]Result, 0, len(distros))
	for _, d := range distros {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		b.logger().Info("bootstrapping distro", "distro", d.Name, "profile", d.Profile)
		result, err := b.Converge(ctx, d)
		b.record(result, err)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (b *Bootstrapper) record(result Result, runErr error) {
	if b.Runs == nil {
		return
	}

	record := RunRecord{
		ID:        uuid.New().String(),
		Distro:    result.Distro.Name,
		Image:     result.Distro.Image,
		User:      result.User,
		Imported:  result.Imported,
		State:     result.State,
		CreatedAt: b.clock().UTC(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}

	if err := b.Runs.Save(record); err != nil {
		b.logger().Warn("could not record bootstrap run", "distro", record.Distro, "error", err)
	}
}
