package wslconf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// DefaultUser returns the default user recorded in content, as WSL itself
// would read it. The boolean is false when no [user] default is set.
func DefaultUser(content []byte) (string, bool, error) {
	if len(content) == 0 {
		return "", false, nil
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
		AllowBooleanKeys:        true,
	}, content)
	if err != nil {
		return "", false, fmt.Errorf("parse wsl.conf: %w", err)
	}

	section, err := file.GetSection(UserSection)
	if err != nil {
		return "", false, nil
	}
	if !section.HasKey(DefaultKey) {
		return "", false, nil
	}
	user := strings.TrimSpace(section.Key(DefaultKey).String())
	return user, user != "", nil
}

// ReadDefaultUser is DefaultUser for the file at path. A missing file is not
// an error.
func ReadDefaultUser(path string) (string, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return DefaultUser(content)
}
