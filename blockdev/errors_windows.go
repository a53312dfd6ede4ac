//go:build windows

package blockdev

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

func classify(err error) (Kind, int) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Other, -1
	}
	switch errno {
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_WRITE_PROTECT:
		return AccessDenied, int(errno)
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND, windows.ERROR_NOT_READY:
		return NotFound, int(errno)
	case windows.ERROR_INVALID_PARAMETER, windows.ERROR_INVALID_NAME, windows.ERROR_BAD_PATHNAME:
		return InvalidPath, int(errno)
	case windows.ERROR_SHARING_VIOLATION, windows.ERROR_LOCK_VIOLATION:
		return Busy, int(errno)
	}
	return Other, int(errno)
}
