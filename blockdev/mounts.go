package blockdev

import (
	"path/filepath"
	"strings"
)

// Mount is a mounted volume as reported by the OS.
type Mount struct {
	Point  string
	Device string
	FSType string
	Size   int64
}

// Mounts lists mounted volumes. Errors yield an empty list.
func Mounts() []Mount {
	return listMounts()
}

// MountedAt reports where device (or one of its partitions) is mounted.
// Writing sectors under a mounted filesystem corrupts it.
func MountedAt(device string, mounts []Mount) (Mount, bool) {
	dev := filepath.Clean(NormalizePath(device))
	for _, m := range mounts {
		if m.Device == "" {
			continue
		}
		md := filepath.Clean(m.Device)
		if md == dev || isPartitionOf(md, dev) {
			return m, true
		}
	}
	return Mount{}, false
}

// isPartitionOf matches sda1/sda, nvme0n1p2/nvme0n1, disk2s1/disk2 and the
// raw rdisk alias.
func isPartitionOf(part, whole string) bool {
	whole = strings.Replace(whole, "/dev/rdisk", "/dev/disk", 1)
	part = strings.Replace(part, "/dev/rdisk", "/dev/disk", 1)
	if !strings.HasPrefix(part, whole) || len(part) == len(whole) {
		return false
	}
	rest := part[len(whole):]
	if rest[0] == 'p' || rest[0] == 's' {
		rest = rest[1:]
	}
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
