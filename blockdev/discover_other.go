//go:build !linux && !darwin && !windows

package blockdev

import "fmt"

func discover() ([]Candidate, error) {
	return nil, fmt.Errorf("device discovery not supported on this OS")
}
