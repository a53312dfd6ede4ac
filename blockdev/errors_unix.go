//go:build unix

package blockdev

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

func classify(err error) (Kind, int) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return Other, -1
	}
	switch errno {
	case unix.EACCES, unix.EPERM, unix.EROFS:
		return AccessDenied, int(errno)
	case unix.ENOENT, unix.ENXIO, unix.ENODEV:
		return NotFound, int(errno)
	case unix.EINVAL, unix.ENOTDIR, unix.ENAMETOOLONG, unix.EISDIR:
		return InvalidPath, int(errno)
	case unix.EBUSY, unix.ETXTBSY:
		return Busy, int(errno)
	}
	return Other, int(errno)
}
