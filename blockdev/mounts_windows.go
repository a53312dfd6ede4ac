//go:build windows

package blockdev

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func driveTypeString(t uint32) string {
	switch t {
	case windows.DRIVE_REMOVABLE:
		return "removable"
	case windows.DRIVE_FIXED:
		return "fixed"
	case windows.DRIVE_REMOTE:
		return "network"
	case windows.DRIVE_CDROM:
		return "cdrom"
	case windows.DRIVE_RAMDISK:
		return "ramdisk"
	}
	return "unknown"
}

// listMounts reports drive letters. Device is the \\.\X: volume path.
func listMounts() []Mount {
	var out []Mount
	for l := 'A'; l <= 'Z'; l++ {
		root := fmt.Sprintf(`%c:\`, l)
		p, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		typ := windows.GetDriveType(p)
		if typ == windows.DRIVE_UNKNOWN || typ == windows.DRIVE_NO_ROOT_DIR {
			continue
		}
		var total uint64
		_ = windows.GetDiskFreeSpaceEx(p, nil, &total, nil)
		out = append(out, Mount{
			Point:  root,
			Device: fmt.Sprintf(`\\.\%c:`, l),
			FSType: driveTypeString(typ),
			Size:   int64(total),
		})
	}
	return out
}
