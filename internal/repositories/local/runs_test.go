package local

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cochaviz/wslkit/internal/distro"
)

func TestLocalRunRepositorySaveAndLatest(t *testing.T) {
	t.Parallel()

	repo := &LocalRunRepository{BaseDir: filepath.Join(t.TempDir(), "runs")}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []distro.RunRecord{
		{ID: "a", Distro: "work", State: distro.StateImported, Error: "no user", CreatedAt: base},
		{ID: "b", Distro: "work", User: "alice", State: distro.StateRunning, CreatedAt: base.Add(time.Hour)},
		{ID: "c", Distro: "uni", User: "alice", State: distro.StateRunning, CreatedAt: base.Add(30 * time.Minute)},
	}
	for _, r := range records {
		if err := repo.Save(r); err != nil {
			t.Fatalf("Save(%s) error = %v", r.ID, err)
		}
	}

	latest, err := repo.LatestForDistro("work")
	if err != nil {
		t.Fatalf("LatestForDistro() error = %v", err)
	}
	if latest == nil || latest.ID != "b" {
		t.Fatalf("LatestForDistro() = %+v, want run b", latest)
	}

	missing, err := repo.LatestForDistro("private")
	if err != nil || missing != nil {
		t.Fatalf("LatestForDistro(private) = %+v, %v, want nil, nil", missing, err)
	}

	list, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	if got := len(ids); got != 3 || ids[0] != "b" || ids[1] != "c" || ids[2] != "a" {
		t.Fatalf("List() ids = %v, want [b c a]", ids)
	}

	got, err := repo.Get("a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Error != "no user" || !got.CreatedAt.Equal(base) {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestLocalRunRepositoryMissingDir(t *testing.T) {
	t.Parallel()

	repo := &LocalRunRepository{BaseDir: filepath.Join(t.TempDir(), "absent")}

	list, err := repo.List()
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("List() = %v, %v, want empty list", list, err)
	}
	got, err := repo.Get("nope")
	if err != nil || got != nil {
		t.Fatalf("Get() = %+v, %v, want nil, nil", got, err)
	}
}

func TestLocalRunRepositoryRejectsBadInput(t *testing.T) {
	t.Parallel()

	if err := (&LocalRunRepository{}).Save(distro.RunRecord{ID: "x"}); err == nil {
		t.Fatalf("Save() without base dir = nil, want error")
	}

	repo := &LocalRunRepository{BaseDir: t.TempDir()}
	if err := repo.Save(distro.RunRecord{}); err == nil {
		t.Fatalf("Save() without id = nil, want error")
	}
	if err := repo.Save(distro.RunRecord{ID: "../escape"}); err == nil {
		t.Fatalf("Save() with path id = nil, want error")
	}

	if err := os.WriteFile(filepath.Join(repo.BaseDir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write broken record: %v", err)
	}
	if _, err := repo.List(); err == nil {
		t.Fatalf("List() with corrupt record = nil, want error")
	}
}
