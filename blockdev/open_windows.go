//go:build windows

package blockdev

import (
	"os"
	"strings"

	"golang.org/x/sys/windows"
)

// NormalizePath prefixes bare drive letters ("E:") and PhysicalDriveN names
// with the \\.\ device namespace.
func NormalizePath(p string) string {
	if strings.HasPrefix(p, `\\.\`) {
		return p
	}
	if len(p) == 2 && p[1] == ':' {
		return `\\.\` + p
	}
	if strings.HasPrefix(strings.ToLower(p), "physicaldrive") {
		return `\\.\` + p
	}
	return p
}

// openFile opens with read-write sharing so the read path never locks out
// other handles; exclusive intent is the caller's responsibility.
func openFile(path string, mode Mode) (*os.File, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	access := uint32(windows.GENERIC_READ)
	if mode == ReadWrite {
		access |= windows.GENERIC_WRITE
	}
	h, err := windows.CreateFile(
		name,
		access,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	f := os.NewFile(uintptr(h), path)
	if f == nil {
		windows.CloseHandle(h)
		return nil, &os.PathError{Op: "open", Path: path, Err: windows.ERROR_INVALID_HANDLE}
	}
	return f, nil
}
