package distro

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cochaviz/wslkit/internal/logging"
	"github.com/cochaviz/wslkit/internal/prompt"
	"github.com/cochaviz/wslkit/internal/wslconf"
)

const testPasswd = `root:x:0:0:root:/root:/bin/bash
bin:x:1:1:bin:/bin:/sbin/nologin
nobody:x:65534:65534:Kernel Overflow User:/:/sbin/nologin
`

// stubHost simulates one or more distros. Commands run inside a distro are
// answered from the distro's passwd, users and wsl.conf content.
type stubHost struct {
	registered map[string]bool
	passwd     map[string]string
	conf       map[string]*string
	defaults   map[string]string

	importErr      error
	getentMissing  bool
	firstBootUsers map[string][]string
	writeExitCode  int

	imports     []string
	firstBoots  []string
	terminated  []string
	commands    []string
	interactive []string
}

func newStubHost() *stubHost {
	return &stubHost{
		registered:     map[string]bool{},
		passwd:         map[string]string{},
		conf:           map[string]*string{},
		defaults:       map[string]string{},
		firstBootUsers: map[string][]string{},
	}
}

func (h *stubHost) IsRegistered(_ context.Context, name string) (bool, error) {
	return h.registered[name], nil
}

func (h *stubHost) ImportDistro(_ context.Context, name, installDir, image string, version int) error {
	h.imports = append(h.imports, name)
	if h.importErr != nil {
		return h.importErr
	}
	h.registered[name] = true
	h.passwd[name] = testPasswd
	h.defaults[name] = "root"
	return nil
}

func (h *stubHost) RunInteractive(_ context.Context, name, user string, argv ...string) error {
	h.interactive = append(h.interactive, name+":"+user+":"+strings.Join(argv, " "))
	h.firstBoots = append(h.firstBoots, name)
	uid := 1000
	for _, u := range h.firstBootUsers[name] {
		h.passwd[name] += u + ":x:" + strconv.Itoa(uid) + ":" + strconv.Itoa(uid) + "::/home/" + u + ":/bin/bash\n"
		uid++
	}
	// first-boot scripts are known to exit non-zero even after success
	return errors.New("exit status 1")
}

func (h *stubHost) RunInSession(_ context.Context, name, user string, stdin io.Reader, argv ...string) (CommandResult, error) {
	h.commands = append(h.commands, name+": "+strings.Join(argv, " "))

	switch argv[0] {
	case "getent":
		if h.getentMissing {
			return CommandResult{Stderr: "getent: not found", ExitCode: 127}, nil
		}
		return CommandResult{Stdout: h.passwd[name]}, nil
	case "cat":
		if argv[1] == "/etc/passwd" {
			return CommandResult{Stdout: h.passwd[name]}, nil
		}
		content := h.conf[name]
		if content == nil {
			return CommandResult{Stderr: "No such file or directory", ExitCode: 1}, nil
		}
		return CommandResult{Stdout: *content}, nil
	case "test":
		if h.conf[name] == nil {
			return CommandResult{ExitCode: 1}, nil
		}
		return CommandResult{}, nil
	case "id":
		for _, record := range ParsePasswd(h.passwd[name]) {
			if record.Name == argv[2] {
				return CommandResult{Stdout: strconv.Itoa(record.UID) + "\n"}, nil
			}
		}
		return CommandResult{Stderr: "id: no such user", ExitCode: 1}, nil
	case "sh":
		if h.writeExitCode != 0 {
			return CommandResult{Stderr: "mv: cannot move", ExitCode: h.writeExitCode}, nil
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return CommandResult{}, err
		}
		content := string(data)
		h.conf[name] = &content
		if u, ok, _ := wslconf.DefaultUser(data); ok {
			h.defaults[name] = u
		}
		return CommandResult{}, nil
	}
	return CommandResult{ExitCode: 127}, nil
}

func (h *stubHost) Terminate(_ context.Context, name string) error {
	h.terminated = append(h.terminated, name)
	return nil
}

func (h *stubHost) QueryDefaultUser(_ context.Context, name string) (string, error) {
	if !h.registered[name] {
		return "", errors.New("distro not found")
	}
	return h.defaults[name], nil
}

type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) Ask(question, suggestion string) (string, error) {
	p.asked = append(p.asked, suggestion)
	if len(p.answers) == 0 {
		return "", errors.New("no more answers")
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

type memoryRuns struct {
	records []RunRecord
}

func (m *memoryRuns) Save(record RunRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *memoryRuns) LatestForDistro(name string) (*RunRecord, error) {
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Distro == name {
			r := m.records[i]
			return &r, nil
		}
	}
	return nil, nil
}

func newTestBootstrapper(t *testing.T, host *stubHost) (*Bootstrapper, string) {
	t.Helper()

	base := t.TempDir()
	image := filepath.Join(base, "fedora.tar")
	if err := os.WriteFile(image, []byte("rootfs"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	return &Bootstrapper{
		Host: host,
		Options: Options{
			InstallBase:     filepath.Join(base, "wsl"),
			WSLVersion:      2,
			ImageExtensions: []string{".tar"},
			AdminUser:       "root",
			ReservedUsers:   []string{"nobody"},
			MinUID:          1000,
			FirstBoot:       []string{"/usr/lib/wsl/oobe.sh"},
		},
		Logger: logging.Discard(),
		now:    func() time.Time { return time.Unix(1_800_000_000, 0) },
	}, image
}

func TestBootstrapFreshDistros(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.firstBootUsers["work"] = []string{"alice"}
	host.firstBootUsers["uni"] = []string{"alice"}
	runs := &memoryRuns{}

	b, image := newTestBootstrapper(t, host)
	b.Runs = runs

	distros := []Distro{
		b.NewDistro("work", "work", image),
		b.NewDistro("uni", "uni", image),
	}
	results, err := b.Bootstrap(context.Background(), image, distros)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	if diff := cmp.Diff([]string{"work", "uni"}, host.imports); diff != "" {
		t.Fatalf("imports mismatch (-want +got):\n%s", diff)
	}
	for _, r := range results {
		if r.User != "alice" || !r.Imported || r.State != StateRunning {
			t.Fatalf("result = %+v, want alice imported running", r)
		}
		if _, err := os.Stat(r.Distro.InstallDir); err != nil {
			t.Fatalf("install dir not created: %v", err)
		}
		if got := *host.conf[r.Distro.Name]; got != "[user]\ndefault=alice\n" {
			t.Fatalf("wsl.conf of %s = %q", r.Distro.Name, got)
		}
	}
	if diff := cmp.Diff([]string{"work", "uni"}, host.terminated); diff != "" {
		t.Fatalf("terminated mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"work:root:/usr/lib/wsl/oobe.sh", "uni:root:/usr/lib/wsl/oobe.sh"}, host.interactive); diff != "" {
		t.Fatalf("interactive mismatch (-want +got):\n%s", diff)
	}

	if len(runs.records) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(runs.records))
	}
	for _, record := range runs.records {
		if record.ID == "" || record.Error != "" || record.State != StateRunning {
			t.Fatalf("record = %+v", record)
		}
	}
}

func TestBootstrapPreselectedUserAppliesToEveryDistro(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.firstBootUsers["work"] = []string{"alice", "bob"}
	host.firstBootUsers["uni"] = []string{"alice", "bob"}

	b, image := newTestBootstrapper(t, host)
	b.Prompter = &prompt.Fixed{Answers: []string{"bob"}, Repeat: true}

	results, err := b.Bootstrap(context.Background(), image, []Distro{
		b.NewDistro("work", "work", image),
		b.NewDistro("uni", "uni", image),
	})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Bootstrap() returned %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.User != "bob" {
			t.Fatalf("user of %s = %q, want bob", r.Distro.Name, r.User)
		}
		if got := *host.conf[r.Distro.Name]; got != "[user]\ndefault=bob\n" {
			t.Fatalf("wsl.conf of %s = %q", r.Distro.Name, got)
		}
	}
}

func TestBootstrapRerunSkipsImportAndFirstBoot(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.registered["work"] = true
	host.passwd["work"] = testPasswd + "alice:x:1000:1000::/home/alice:/bin/bash\n"
	conf := "[boot]\nsystemd=true\n[user]\ndefault=alice\n"
	host.conf["work"] = &conf
	host.defaults["work"] = "alice"

	b, image := newTestBootstrapper(t, host)
	results, err := b.Bootstrap(context.Background(), image, []Distro{b.NewDistro("work", "work", image)})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	if len(host.imports) != 0 {
		t.Fatalf("imports = %v, want none", host.imports)
	}
	if len(host.firstBoots) != 0 {
		t.Fatalf("first boot ran for %v, want none", host.firstBoots)
	}
	if results[0].Imported || results[0].User != "alice" {
		t.Fatalf("result = %+v", results[0])
	}
	if got := *host.conf["work"]; got != conf {
		t.Fatalf("wsl.conf changed on rerun: %q", got)
	}
}

func TestEnsureImportedIsNoOpWhenRegistered(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.registered["work"] = true
	b, image := newTestBootstrapper(t, host)

	imported, err := b.EnsureImported(context.Background(), b.NewDistro("work", "work", image))
	if err != nil {
		t.Fatalf("EnsureImported() error = %v", err)
	}
	if imported || len(host.imports) != 0 {
		t.Fatalf("EnsureImported() imported = %t, calls = %v", imported, host.imports)
	}
}

func TestEnsureImportedSurfacesCommandOutput(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.importErr = &CommandError{
		Args:     []string{"wsl.exe", "--import", "work"},
		Output:   "The operation could not be started because a required feature is not installed.",
		ExitCode: 1,
	}
	b, image := newTestBootstrapper(t, host)

	_, err := b.EnsureImported(context.Background(), b.NewDistro("work", "work", image))
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("EnsureImported() error = %v, want CommandError", err)
	}
	if !strings.Contains(err.Error(), "required feature is not installed") {
		t.Fatalf("error does not carry command output: %v", err)
	}
}

func TestFirstBootWithoutUserFails(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	runs := &memoryRuns{}
	b, image := newTestBootstrapper(t, host)
	b.Runs = runs

	_, err := b.Bootstrap(context.Background(), image, []Distro{b.NewDistro("work", "work", image)})
	var post *PostconditionError
	if !errors.As(err, &post) {
		t.Fatalf("Bootstrap() error = %v, want PostconditionError", err)
	}
	if Remedy(err) == "" {
		t.Fatalf("Remedy() is empty")
	}
	if len(runs.records) != 1 || runs.records[0].Error == "" || runs.records[0].State != StateImported {
		t.Fatalf("records = %+v, want one failed record at imported state", runs.records)
	}
	if len(host.terminated) != 0 {
		t.Fatalf("verification ran after failed first boot")
	}
}

func TestDiscoverUsersReturnsSlice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		passwd string
		want   []string
	}{
		{name: "none", passwd: testPasswd, want: []string{}},
		{name: "one", passwd: testPasswd + "alice:x:1000:1000::/home/alice:/bin/bash\n", want: []string{"alice"}},
		{
			name:   "file order",
			passwd: testPasswd + "zoe:x:1001:1001::/home/zoe:/bin/bash\nalice:x:1000:1000::/home/alice:/bin/bash\n",
			want:   []string{"zoe", "alice"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host := newStubHost()
			host.registered["work"] = true
			host.passwd["work"] = tt.passwd
			b, image := newTestBootstrapper(t, host)

			got, err := b.DiscoverUsers(context.Background(), b.NewDistro("work", "work", image))
			if err != nil {
				t.Fatalf("DiscoverUsers() error = %v", err)
			}
			if got == nil {
				t.Fatalf("DiscoverUsers() = nil, want non-nil slice")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("DiscoverUsers() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiscoverUsersFallsBackToPasswdFile(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.getentMissing = true
	host.passwd["work"] = testPasswd + "alice:x:1000:1000::/home/alice:/bin/bash\n"
	b, image := newTestBootstrapper(t, host)

	got, err := b.DiscoverUsers(context.Background(), b.NewDistro("work", "work", image))
	if err != nil {
		t.Fatalf("DiscoverUsers() error = %v", err)
	}
	if diff := cmp.Diff([]string{"alice"}, got); diff != "" {
		t.Fatalf("DiscoverUsers() mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectDefaultUser(t *testing.T) {
	t.Parallel()

	passwd := testPasswd + "alice:x:1000:1000::/home/alice:/bin/bash\nbob:x:1001:1001::/home/bob:/bin/bash\n"

	tests := []struct {
		name       string
		candidates []string
		answers    []string
		want       string
		wantAsked  int
		wantErr    bool
	}{
		{name: "single candidate", candidates: []string{"alice"}, want: "alice"},
		{name: "empty answer takes suggestion", candidates: []string{"alice", "bob"}, answers: []string{""}, want: "alice", wantAsked: 1},
		{name: "explicit answer", candidates: []string{"alice", "bob"}, answers: []string{"bob"}, want: "bob", wantAsked: 1},
		{name: "retry once", candidates: []string{"alice", "bob"}, answers: []string{"carol", "bob"}, want: "bob", wantAsked: 2},
		{name: "invalid characters retried", candidates: []string{"alice", "bob"}, answers: []string{"Bob;rm", "alice"}, want: "alice", wantAsked: 2},
		{name: "two failures", candidates: []string{"alice", "bob"}, answers: []string{"carol", "dave", "bob"}, wantAsked: 2, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host := newStubHost()
			host.passwd["work"] = passwd
			prompter := &scriptedPrompter{answers: tt.answers}
			b, image := newTestBootstrapper(t, host)
			b.Prompter = prompter

			got, err := b.SelectDefaultUser(context.Background(), b.NewDistro("work", "work", image), tt.candidates)
			if tt.wantErr {
				var validation *ValidationError
				if !errors.As(err, &validation) {
					t.Fatalf("SelectDefaultUser() error = %v, want ValidationError", err)
				}
			} else if err != nil {
				t.Fatalf("SelectDefaultUser() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("SelectDefaultUser() = %q, want %q", got, tt.want)
			}
			if len(prompter.asked) != tt.wantAsked {
				t.Fatalf("asked %d times, want %d", len(prompter.asked), tt.wantAsked)
			}
			for _, suggestion := range prompter.asked {
				if suggestion != tt.candidates[0] {
					t.Fatalf("suggestion = %q, want %q", suggestion, tt.candidates[0])
				}
			}
		})
	}
}

func TestApplyDefaultUserMergesExistingConf(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	conf := "[user]\ndefault=root\n[network]\nhostname=work\n"
	host.conf["work"] = &conf
	b, image := newTestBootstrapper(t, host)

	if err := b.ApplyDefaultUser(context.Background(), b.NewDistro("work", "work", image), "bob"); err != nil {
		t.Fatalf("ApplyDefaultUser() error = %v", err)
	}
	if got := *host.conf["work"]; got != "[user]\ndefault=bob\n[network]\nhostname=work\n" {
		t.Fatalf("wsl.conf = %q", got)
	}
}

func TestApplyDefaultUserWriteFailure(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.writeExitCode = 1
	b, image := newTestBootstrapper(t, host)

	err := b.ApplyDefaultUser(context.Background(), b.NewDistro("work", "work", image), "bob")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("ApplyDefaultUser() error = %v, want CommandError", err)
	}
	if !strings.Contains(cmdErr.Output, "cannot move") {
		t.Fatalf("Output = %q, want captured stderr", cmdErr.Output)
	}
}

func TestApplyDefaultUserRejectsInjection(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	b, image := newTestBootstrapper(t, host)

	err := b.ApplyDefaultUser(context.Background(), b.NewDistro("work", "work", image), "bob\n[boot]")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("ApplyDefaultUser() error = %v, want ValidationError", err)
	}
	if len(host.commands) != 0 {
		t.Fatalf("commands ran for invalid user: %v", host.commands)
	}
}

func TestVerifyFailsWhenStillAdmin(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	host.registered["work"] = true
	host.defaults["work"] = "root"
	b, image := newTestBootstrapper(t, host)

	_, err := b.Verify(context.Background(), b.NewDistro("work", "work", image), "alice")
	var post *PostconditionError
	if !errors.As(err, &post) {
		t.Fatalf("Verify() error = %v, want PostconditionError", err)
	}
	if diff := cmp.Diff([]string{"work"}, host.terminated); diff != "" {
		t.Fatalf("terminate mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateImage(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	b, image := newTestBootstrapper(t, host)
	dir := filepath.Dir(image)

	empty := filepath.Join(dir, "empty.tar")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty image: %v", err)
	}
	wrongExt := filepath.Join(dir, "image.zip")
	if err := os.WriteFile(wrongExt, []byte("zip"), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	dirImage := filepath.Join(dir, "folder.tar")
	if err := os.Mkdir(dirImage, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := b.ValidateImage(image); err != nil {
		t.Fatalf("ValidateImage(valid) = %v", err)
	}
	if err := b.ValidateImage(strings.ToUpper(filepath.Base(image))); err == nil {
		t.Fatalf("ValidateImage(relative missing) = nil, want error")
	}

	for _, path := range []string{"", filepath.Join(dir, "missing.tar"), empty, wrongExt, dirImage} {
		err := b.ValidateImage(path)
		var pre *PreconditionError
		if !errors.As(err, &pre) {
			t.Fatalf("ValidateImage(%q) = %v, want PreconditionError", path, err)
		}
		if pre.Remedy == "" {
			t.Fatalf("ValidateImage(%q) has no remedy", path)
		}
	}

	if len(host.imports) != 0 {
		t.Fatalf("validation triggered imports")
	}
}

func TestBootstrapInvalidImageTouchesNothing(t *testing.T) {
	t.Parallel()

	host := newStubHost()
	b, image := newTestBootstrapper(t, host)

	_, err := b.Bootstrap(context.Background(), image+".missing", []Distro{b.NewDistro("work", "work", image)})
	if err == nil {
		t.Fatalf("Bootstrap() error = nil, want error")
	}
	if len(host.imports) != 0 || len(host.commands) != 0 {
		t.Fatalf("host was used despite invalid image")
	}
	if _, statErr := os.Stat(b.Options.InstallBase); !os.IsNotExist(statErr) {
		t.Fatalf("install base created despite invalid image")
	}
}
