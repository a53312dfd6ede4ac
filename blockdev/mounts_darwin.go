//go:build darwin

package blockdev

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

func listMounts() []Mount {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil || n <= 0 {
		return nil
	}
	buf := make([]unix.Statfs_t, n)
	if _, err := unix.Getfsstat(buf, unix.MNT_NOWAIT); err != nil {
		return nil
	}
	out := make([]Mount, 0, len(buf))
	for _, st := range buf {
		out = append(out, Mount{
			Point:  filepath.Clean(cString(st.Mntonname[:])),
			Device: cString(st.Mntfromname[:]),
			FSType: cString(st.Fstypename[:]),
			Size:   int64(st.Blocks) * int64(st.Bsize),
		})
	}
	return out
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
