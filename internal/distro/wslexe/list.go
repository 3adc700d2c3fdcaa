package wslexe

import (
	"strings"
	"unicode/utf16"
)

// ParseDistroList extracts distro names from `wsl.exe --list --quiet`.
// Output may be UTF-16LE when WSL_UTF8 is ignored by older releases.
func ParseDistroList(out []byte) []string {
	names := []string{}
	for _, line := range strings.Split(decodeOutput(out), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func decodeOutput(out []byte) string {
	if looksUTF16LE(out) {
		if len(out)%2 == 1 {
			out = out[:len(out)-1]
		}
		units := make([]uint16, 0, len(out)/2)
		for i := 0; i+1 < len(out); i += 2 {
			units = append(units, uint16(out[i])|uint16(out[i+1])<<8)
		}
		out = []byte(string(utf16.Decode(units)))
	}

	s := strings.TrimPrefix(string(out), "\ufeff")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.ReplaceAll(s, "\r", "")
}

func looksUTF16LE(out []byte) bool {
	if len(out) >= 2 && out[0] == 0xFF && out[1] == 0xFE {
		return true
	}
	if len(out) < 2 {
		return false
	}
	zeros := 0
	for i := 1; i < len(out); i += 2 {
		if out[i] == 0 {
			zeros++
		}
	}
	return zeros*2 >= len(out)/2
}
