//go:build darwin

package blockdev

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	dkiocGetBlockSize  = 0x40046418 // _IOR('d', 24, uint32)
	dkiocGetBlockCount = 0x40086419 // _IOR('d', 25, uint64)
)

func deviceSize(f *os.File) (int64, error) {
	if size, err := f.Seek(0, io.SeekEnd); err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	bs, err := unix.IoctlGetUint32(int(f.Fd()), dkiocGetBlockSize)
	if err != nil {
		return 0, err
	}
	var count uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockCount, uintptr(unsafe.Pointer(&count)))
	if errno != 0 {
		return 0, errno
	}
	return int64(bs) * int64(count), nil
}

func logicalSectorSize(f *os.File) (int, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode().IsRegular() {
		return 0, nil
	}
	bs, err := unix.IoctlGetUint32(int(f.Fd()), dkiocGetBlockSize)
	return int(bs), err
}
