package blockdev

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeImage(t *testing.T, sectors, sectorSize int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	data := make([]byte, sectors*sectorSize)
	for i := range data {
		data[i] = byte(i / sectorSize)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDevice_ReadAtOffsets(t *testing.T) {
	for _, size := range []int{DefaultSectorSize, OpticalSectorSize, ModernSectorSize} {
		path := makeImage(t, 8, size)
		d := New(path, size, ReadOnly)
		for s := uint64(0); s < 8; s++ {
			buf, err := d.ReadAt(s)
			require.NoError(t, err)
			require.Len(t, buf, size)
			assert.Equal(t, bytes.Repeat([]byte{byte(s)}, size), buf)
		}
		require.NoError(t, d.Close())
		require.NoError(t, d.Close(), "close is idempotent")
	}
}

func TestDevice_ReadRunSplitsPerSector(t *testing.T) {
	path := makeImage(t, 16, 512)
	d, err := Open(path, 512, ReadOnly)
	require.NoError(t, err)
	defer d.Close()

	run, err := d.ReadRun(4, 5)
	require.NoError(t, err)
	require.Len(t, run, 5)
	for i, sec := range run {
		assert.Len(t, sec, 512)
		assert.Equal(t, byte(4+i), sec[0])
		assert.Equal(t, byte(4+i), sec[511])
	}
}

func TestDevice_ReadPastEndIsPartialIO(t *testing.T) {
	path := makeImage(t, 4, 512)
	d := New(path, 512, ReadOnly)
	defer d.Close()

	_, err := d.ReadAt(4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, PartialIO))

	var de *DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, uint64(4), de.Sector)
	assert.True(t, de.HasSector)

	_, err = d.ReadRun(2, 4)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, PartialIO, de.Kind)
	assert.Equal(t, uint64(4), de.Sector, "first sector not transferred")
}

func TestDevice_WriteAt(t *testing.T) {
	path := makeImage(t, 4, 512)
	d := New(path, 512, ReadWrite)
	defer d.Close()

	payload := bytes.Repeat([]byte{0xAB}, 512)
	require.NoError(t, d.WriteAt(2, payload))
	require.NoError(t, d.Sync())

	got, err := d.ReadAt(2)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, raw[1024:1536])
	assert.Equal(t, byte(1), raw[1023], "neighbouring sector untouched")
}

func TestDevice_WriteSizeMismatch(t *testing.T) {
	path := makeImage(t, 4, 512)
	d := New(path, 512, ReadWrite)
	defer d.Close()

	err := d.WriteAt(0, make([]byte, 100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, SizeMismatch))
	assert.Equal(t, SizeMismatch, KindOf(err))
}

func TestDevice_OpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.img"), 512, ReadOnly)
	require.Error(t, err)
	assert.True(t, errors.Is(err, NotFound), "got %v", err)
	assert.Contains(t, err.Error(), "check the device path")

	_, err = Open(dir, 512, ReadOnly)
	require.Error(t, err)
	assert.Equal(t, InvalidPath, KindOf(err))

	_, err = Open(makeImage(t, 1, 512), 0, ReadOnly)
	assert.Equal(t, InvalidPath, KindOf(err))
}

func TestDevice_OpenReadOnlyFileForWrite(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	path := makeImage(t, 2, 512)
	require.NoError(t, os.Chmod(path, 0o444))

	d := New(path, 512, ReadWrite)
	err := d.WriteAt(0, make([]byte, 512))
	require.Error(t, err)
	assert.True(t, errors.Is(err, AccessDenied), "got %v", err)
}

func TestDevice_SizeAndSectorCount(t *testing.T) {
	path := makeImage(t, 10, 512)
	d := New(path, 512, ReadOnly)
	defer d.Close()

	size, err := d.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(5120), size)

	n, err := d.SectorCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)

	assert.Equal(t, 0, d.LogicalSectorSize(), "regular image has no logical sector size")
}

func TestKind_ErrorStrings(t *testing.T) {
	err := &DeviceError{Op: "read", Path: "/dev/x", Sector: 7, HasSector: true, Kind: Other, Code: 5}
	assert.Equal(t, "read /dev/x sector 7: other (code 5)", err.Error())
	assert.Equal(t, Other, KindOf(errors.New("plain")))
}

func TestMountedAt(t *testing.T) {
	mounts := []Mount{
		{Point: "/", Device: "/dev/nvme0n1p2"},
		{Point: "/media/usb", Device: "/dev/sdb1"},
		{Point: "/Volumes/X", Device: "/dev/disk4s1"},
		{Point: "/proc", Device: ""},
	}
	for dev, want := range map[string]string{
		"/dev/nvme0n1": "/",
		"/dev/sdb":     "/media/usb",
		"/dev/sdb1":    "/media/usb",
		"/dev/rdisk4":  "/Volumes/X",
	} {
		m, ok := MountedAt(dev, mounts)
		if assert.True(t, ok, dev) {
			assert.Equal(t, want, m.Point)
		}
	}
	for _, dev := range []string{"/dev/sda", "/dev/sdb2", "/dev/nvme0n11", "/dev/disk44"} {
		_, ok := MountedAt(dev, mounts)
		assert.False(t, ok, dev)
	}
}
