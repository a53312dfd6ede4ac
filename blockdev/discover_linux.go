//go:build linux

package blockdev

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func discover() ([]Candidate, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	out := []Candidate{}
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join("/dev", name)
		switch {
		case isWholeLinuxDevice(name):
			c := Candidate{Path: path, Whole: true, Size: -1}
			sysBlockInfo(name, &c)
			out = append(out, c)
		case isPartitionLinux(name):
			c := Candidate{Path: path, Reason: "partition", Size: -1}
			sysBlockInfo(name, &c)
			out = append(out, c)
		case strings.HasPrefix(name, "sr"):
			out = append(out, Candidate{Path: path, Whole: true, Removable: true,
				SectorSizeHint: OpticalSectorSize, Size: -1, Reason: "optical"})
		case strings.HasPrefix(name, "loop") && name != "loop-control":
			c := Candidate{Path: path, Whole: true, Reason: "loop device", Size: -1}
			sysBlockInfo(name, &c)
			out = append(out, c)
		}
	}
	return out, nil
}

// sysBlockInfo reads sector size, size and removable flag from sysfs without
// opening the device node.
func sysBlockInfo(name string, c *Candidate) {
	sys := filepath.Join("/sys/class/block", name)
	if n, ok := readSysInt(filepath.Join(sys, "queue", "logical_block_size")); ok {
		c.SectorSizeHint = int(n)
	} else if parent, err := filepath.EvalSymlinks(sys); err == nil {
		// Partitions inherit the queue of their parent disk.
		if n, ok := readSysInt(filepath.Join(filepath.Dir(parent), "queue", "logical_block_size")); ok {
			c.SectorSizeHint = int(n)
		}
	}
	// sysfs "size" is always in 512-byte units.
	if n, ok := readSysInt(filepath.Join(sys, "size")); ok {
		c.Size = n * 512
	}
	if n, ok := readSysInt(filepath.Join(sys, "removable")); ok {
		c.Removable = n == 1
	}
}

func readSysInt(path string) (int64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isWholeLinuxDevice(name string) bool {
	// sdX, vdX
	if len(name) == 3 && (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && name[2] >= 'a' && name[2] <= 'z' {
		return true
	}
	// nvmeXnY
	if strings.HasPrefix(name, "nvme") && !strings.Contains(name, "p") {
		parts := strings.Split(name, "n")
		return len(parts) == 3 && parts[1] != "" && parts[2] != ""
	}
	// mmcblkX
	if strings.HasPrefix(name, "mmcblk") && !strings.Contains(name[6:], "p") && !strings.Contains(name, "boot") && !strings.Contains(name, "rpmb") {
		return true
	}
	return false
}

func isPartitionLinux(name string) bool {
	// sdXN or vdXN
	if (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && len(name) >= 4 {
		if name[len(name)-1] >= '0' && name[len(name)-1] <= '9' {
			return true
		}
	}
	// nvmeXnYpZ
	if strings.HasPrefix(name, "nvme") && strings.Contains(name, "p") {
		return true
	}
	// mmcblkXpZ
	if strings.HasPrefix(name, "mmcblk") && strings.Contains(name[6:], "p") {
		return true
	}
	return false
}
