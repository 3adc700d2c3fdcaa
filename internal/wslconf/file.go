package wslconf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileMode is the mode every written configuration file ends up with.
const FileMode fs.FileMode = 0o644

// MergeFile sets name as the default user in the file at path, creating the
// file when it does not exist. The result is written to a temporary file next
// to path and renamed over it, so readers never observe a partial write.
func MergeFile(path, name string) error {
	if err := ValidateUsername(name); err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	merged, err := Merge(content, name)
	if err != nil {
		return err
	}
	return WriteFile(path, merged)
}

// WriteFile atomically replaces path with content using FileMode.
func WriteFile(path string, content []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temporary file: %w", err)
	}
	if err = os.Chmod(tmpPath, FileMode); err != nil {
		return fmt.Errorf("chmod temporary file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("install %s: %w", path, err)
	}
	return nil
}
