package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMarkerPath is where the applied profile is recorded.
func DefaultMarkerPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, "wslkit", "profile"), nil
}

// WriteMarker records profile as the last applied profile.
func WriteMarker(path, profile string) error {
	if path == "" {
		var err error
		if path, err = DefaultMarkerPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(profile+"\n"), 0o644); err != nil {
		return fmt.Errorf("write profile marker: %w", err)
	}
	return nil
}

// ReadMarker returns the recorded profile, or "" when none was written.
func ReadMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read profile marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
