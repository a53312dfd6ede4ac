//go:build linux

package blockdev

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

func listMounts() []Mount {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []Mount
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		m := Mount{Device: fields[0], Point: unescapeMount(fields[1]), FSType: fields[2]}
		var st unix.Statfs_t
		if unix.Statfs(m.Point, &st) == nil {
			m.Size = int64(st.Blocks) * int64(st.Bsize)
		}
		if real, err := filepath.EvalSymlinks(m.Device); err == nil {
			m.Device = real
		}
		out = append(out, m)
	}
	return out
}

// unescapeMount undoes the octal escaping of spaces and tabs in mount paths.
func unescapeMount(s string) string {
	return strings.NewReplacer(`\040`, " ", `\011`, "\t", `\134`, `\`).Replace(s)
}
