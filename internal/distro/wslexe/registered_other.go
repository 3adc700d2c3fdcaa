//go:build !windows

package wslexe

import "context"

// Outside Windows wsl.exe is reached through WSL interop, so the registry is
// not readable and the list comes from the executable itself.
func (h *Host) registeredNames(ctx context.Context) ([]string, error) {
	return h.listDistros(ctx)
}
