//go:build windows

package blockdev

import (
	"fmt"
)

func discover() ([]Candidate, error) {
	out := []Candidate{}
	for i := 0; i < 32; i++ {
		c := Candidate{Path: fmt.Sprintf(`\\.\PhysicalDrive%d`, i), Whole: true}
		d, err := Open(c.Path, DefaultSectorSize, ReadOnly)
		if err != nil {
			if KindOf(err) == AccessDenied {
				c.Reason = "not accessible"
				c.Size = -1
				out = append(out, c)
			}
			continue
		}
		d.Close()
		probe(&c)
		out = append(out, c)
	}
	return out, nil
}
