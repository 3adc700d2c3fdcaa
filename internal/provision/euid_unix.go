//go:build unix

package provision

import "golang.org/x/sys/unix"

func currentEUID() int {
	return unix.Geteuid()
}
