// Package local stores bootstrap history as one JSON file per run.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/wslkit/internal/distro"
)

// LocalRunRepository persists distro.RunRecord values under BaseDir.
type LocalRunRepository struct {
	BaseDir string
}

var _ distro.RunRepository = (*LocalRunRepository)(nil)

// Save writes the record using its ID as the filename.
func (rep *LocalRunRepository) Save(record distro.RunRecord) error {
	if rep.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if record.ID == "" {
		return errors.New("run id is required")
	}
	if strings.ContainsAny(record.ID, `/\`) {
		return fmt.Errorf("invalid run id %q", record.ID)
	}

	if err := os.MkdirAll(rep.BaseDir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(rep.BaseDir, record.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Get returns the run with the provided ID, or nil when it does not exist.
func (rep *LocalRunRepository) Get(id string) (*distro.RunRecord, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	return rep.load(filepath.Join(rep.BaseDir, id+".json"))
}

// LatestForDistro returns the newest run recorded for the named distro.
func (rep *LocalRunRepository) LatestForDistro(name string) (*distro.RunRecord, error) {
	records, err := rep.List()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if strings.EqualFold(record.Distro, name) {
			clone := record
			return &clone, nil
		}
	}
	return nil, nil
}

// List returns every recorded run, newest first. A missing base directory
// yields an empty list.
func (rep *LocalRunRepository) List() ([]distro.RunRecord, error) {
	entries, err := os.ReadDir(rep.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []distro.RunRecord{}, nil
		}
		return nil, err
	}

	records := make([]distro.RunRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		record, err := rep.load(filepath.Join(rep.BaseDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		records = append(records, *record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (rep *LocalRunRepository) load(path string) (*distro.RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var record distro.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &record, nil
}
