//go:build !windows

package blockdev

import "os"

// NormalizePath returns p unchanged; unix device nodes need no prefix.
func NormalizePath(p string) string { return p }

func openFile(path string, mode Mode) (*os.File, error) {
	flag := os.O_RDONLY
	if mode == ReadWrite {
		flag = os.O_RDWR
	}
	return os.OpenFile(path, flag, 0)
}
