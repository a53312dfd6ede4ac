//go:build !unix && !windows

package blockdev

func classify(error) (Kind, int) { return Other, -1 }
