//go:build windows

package wslexe

import (
	"context"

	"github.com/ubuntu/gowsl"
)

func (h *Host) registeredNames(ctx context.Context) ([]string, error) {
	distros, err := gowsl.RegisteredDistros(ctx)
	if err != nil {
		h.logger().Debug("registry lookup failed, asking wsl.exe", "error", err)
		return h.listDistros(ctx)
	}

	names := make([]string, 0, len(distros))
	for _, d := range distros {
		names = append(names, d.Name())
	}
	return names, nil
}
