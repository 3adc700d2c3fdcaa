//go:build !unix

package provision

func currentEUID() int {
	return -1
}
