//go:build linux

package blockdev

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// deviceSize tries seek-to-end first (regular images and most block nodes),
// then BLKGETSIZE64.
func deviceSize(f *os.File) (int64, error) {
	if size, err := f.Seek(0, io.SeekEnd); err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	// BLKGETSIZE64 writes a u64 regardless of the native int width.
	var sizeBytes uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&sizeBytes)))
	if errno != 0 {
		return 0, errno
	}
	return int64(sizeBytes), nil
}

func logicalSectorSize(f *os.File) (int, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode().IsRegular() {
		return 0, nil
	}
	return unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
}
