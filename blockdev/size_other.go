//go:build !linux && !darwin && !windows

package blockdev

import (
	"errors"
	"io"
	"os"
)

func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	_, _ = f.Seek(0, io.SeekStart)
	return size, nil
}

func logicalSectorSize(*os.File) (int, error) {
	return 0, errors.ErrUnsupported
}
