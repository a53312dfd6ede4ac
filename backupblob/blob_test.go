package backupblob

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sector(b byte) []byte { return bytes.Repeat([]byte{b}, 512) }

func TestBlobRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.blob")

	w, err := Create(path, 512)
	require.NoError(t, err)
	require.NoError(t, w.Add(5, sector(0x05)))
	require.NoError(t, w.Add(900, sector(0x90)))
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())
	require.NoError(t, Append(path, 5, sector(0x55)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3*(8+512)), info.Size())

	b, err := Open(path, 512)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 2, b.Len())
	got, err := b.ReadSector(5)
	require.NoError(t, err)
	assert.Equal(t, sector(0x55), got, "last entry wins")

	got, err = b.ReadSector(900)
	require.NoError(t, err)
	assert.Equal(t, sector(0x90), got)

	assert.False(t, b.Has(6))
	_, err = b.ReadSector(6)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlobIgnoresTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.blob")
	require.NoError(t, Append(path, 1, sector(0x01)))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{2, 0, 0, 0, 0, 0, 0, 0, 0xAA, 0xAA})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b, err := Open(path, 512)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 1, b.Len())
	assert.False(t, b.Has(2))
}

func TestBlobRejectsWrongSize(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "x.blob"), 512)
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Add(0, make([]byte, 100)))

	_, err = Open(filepath.Join(t.TempDir(), "missing.blob"), 512)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
