//go:build darwin

package blockdev

import (
	"os"
	"path/filepath"
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
		// Raw nodes only; the buffered /dev/diskN twin is skipped.
		if !strings.HasPrefix(name, "rdisk") {
			continue
		}
		c := Candidate{Path: filepath.Join("/dev", name), Whole: true}
		for i := 5; i+1 < len(name); i++ {
			if name[i] == 's' && name[i+1] >= '0' && name[i+1] <= '9' {
				c.Whole = false
				c.Reason = "partition"
				break
			}
		}
		probe(&c)
		out = append(out, c)
	}
	return out, nil
}
