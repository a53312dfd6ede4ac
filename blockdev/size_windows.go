//go:build windows

package blockdev

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

const ioctlDiskGetDriveGeometryEx = 0x000700A0

type diskGeometry struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

type diskGeometryEx struct {
	Geometry diskGeometry
	DiskSize int64
	Data     [8]byte
}

func driveGeometry(f *os.File) (diskGeometryEx, error) {
	var g diskGeometryEx
	var returned uint32
	err := windows.DeviceIoControl(
		windows.Handle(f.Fd()),
		ioctlDiskGetDriveGeometryEx,
		nil, 0,
		(*byte)(unsafe.Pointer(&g)), uint32(unsafe.Sizeof(g)),
		&returned,
		nil,
	)
	return g, err
}

// deviceSize uses seek-to-end for image files and the drive geometry for raw
// \\.\PhysicalDriveN handles.
func deviceSize(f *os.File) (int64, error) {
	if size, err := f.Seek(0, io.SeekEnd); err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	g, err := driveGeometry(f)
	if err != nil {
		return 0, err
	}
	return g.DiskSize, nil
}

func logicalSectorSize(f *os.File) (int, error) {
	g, err := driveGeometry(f)
	if err != nil {
		return 0, err
	}
	return int(g.Geometry.BytesPerSector), nil
}
