//go:build linux

package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDeviceSizeFallsBackToIoctl(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.img")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	// An empty regular file skips the seek result and reaches BLKGETSIZE64,
	// which a non-block file rejects.
	_, err = deviceSize(f)
	var errno unix.Errno
	assert.ErrorAs(t, err, &errno)

	require.NoError(t, os.WriteFile(p, make([]byte, 4096), 0o644))
	size, err := deviceSize(f)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
}
