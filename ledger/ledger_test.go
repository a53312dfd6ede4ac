package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.crc")
}

func TestWriterRoundTrip(t *testing.T) {
	path := tempPath(t)
	w, err := Create(path, 100, 3, 1700000000)
	require.NoError(t, err)
	for i, crc := range []uint32{0xDEADBEEF, 0x00000001, 0xCAFEBABE} {
		require.NoError(t, w.Append(SectorChecksum{Sector: 100 + uint64(i), CRC: crc, Timestamp: 1700000000}))
	}
	assert.Equal(t, uint64(3), w.Count())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+3*RecordSize), info.Size())

	l, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Magic, l.Magic)
	assert.Equal(t, uint64(100), l.StartSector)
	assert.Equal(t, uint64(3), l.SectorCount)
	assert.Equal(t, uint64(1700000000), l.Timestamp)
	require.Len(t, l.Records, 3)
	assert.Equal(t, SectorChecksum{Sector: 102, CRC: 0xCAFEBABE, Timestamp: 1700000000}, l.Records[2])
	require.NoError(t, l.Coverage())

	r, ok := l.Lookup(101)
	require.True(t, ok)
	assert.Equal(t, uint32(1), r.CRC)
	_, ok = l.Lookup(103)
	assert.False(t, ok)
	assert.True(t, Validate(path))
}

func TestByteLayout(t *testing.T) {
	path := tempPath(t)
	require.NoError(t, Write(path, Header{StartSector: 7, Timestamp: 9}, []SectorChecksum{{Sector: 7, CRC: 0x11223344, Timestamp: 9}}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 48)
	assert.Equal(t, []byte{0x44, 0x43, 0x52, 0x43}, raw[0:4], "magic CRCD little endian")
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(raw[4:]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(raw[12:]))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(raw[20:]))
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(raw[28:]))
	assert.Equal(t, uint32(0x11223344), binary.LittleEndian.Uint32(raw[36:]))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(raw[40:]))
}

func TestCloseRewritesCountOnPartialLedger(t *testing.T) {
	path := tempPath(t)
	w, err := Create(path, 0, 1000, 1)
	require.NoError(t, err)
	for s := uint64(0); s < 42; s++ {
		require.NoError(t, w.Append(SectorChecksum{Sector: s, CRC: uint32(s)}))
	}
	require.NoError(t, w.Abort())

	h, err := LoadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h.SectorCount)

	l, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, l.Records, 42)
}

func TestAppendAfterClose(t *testing.T) {
	w, err := Create(tempPath(t), 0, 1, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	err = w.Append(SectorChecksum{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestConcurrentAppend(t *testing.T) {
	path := tempPath(t)
	const workers, per = 8, 250
	w, err := Create(path, 0, workers*per, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				s := uint64(g*per + i)
				assert.NoError(t, w.Append(SectorChecksum{Sector: s, CRC: uint32(s * 3)}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	l, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, l.Coverage())
	for _, r := range l.Records {
		assert.Equal(t, uint32(r.Sector*3), r.CRC, "record torn for sector %d", r.Sector)
	}
}

func TestFinalizeSorted(t *testing.T) {
	path := tempPath(t)
	w, err := Create(path, 10, 4, 0)
	require.NoError(t, err)
	for _, s := range []uint64{13, 10, 12, 11} {
		require.NoError(t, w.Append(SectorChecksum{Sector: s, CRC: uint32(s)}))
	}
	require.NoError(t, w.Finalize(true))

	l, err := Load(path)
	require.NoError(t, err)
	for i, r := range l.Records {
		assert.Equal(t, uint64(10+i), r.Sector)
		assert.Equal(t, uint32(10+i), r.CRC)
	}
}

func TestSortedDoesNotMutate(t *testing.T) {
	l := &Ledger{Records: []SectorChecksum{{Sector: 3}, {Sector: 1}, {Sector: 2}}}
	s := l.Sorted()
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{s[0].Sector, s[1].Sector, s[2].Sector})
	assert.Equal(t, uint64(3), l.Records[0].Sector)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, b []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, b, 0o644))
		return p
	}

	hdr := func(magic uint32, count uint64) []byte {
		b := make([]byte, HeaderSize)
		putHeader(b, Header{Magic: magic, SectorCount: count})
		return b
	}

	t.Run("bad magic", func(t *testing.T) {
		_, err := Load(write("bad.crc", hdr(0x12345678, 0)))
		assert.ErrorIs(t, err, ErrBadMagic)
	})
	t.Run("filesystem ledger", func(t *testing.T) {
		p := write("fs.crc", hdr(FilesystemMagic, 0))
		_, err := Load(p)
		assert.ErrorIs(t, err, ErrFilesystemLedger)
		assert.False(t, Validate(p))
	})
	t.Run("short header", func(t *testing.T) {
		_, err := Load(write("short.crc", hdr(Magic, 0)[:10]))
		assert.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("empty file", func(t *testing.T) {
		_, err := Load(write("empty.crc", nil))
		assert.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("missing records", func(t *testing.T) {
		b := append(hdr(Magic, 3), make([]byte, 2*RecordSize+5)...)
		p := write("trunc.crc", b)
		_, err := Load(p)
		assert.ErrorIs(t, err, ErrTruncated)
		assert.False(t, Validate(p))
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.crc"))
		var le *Error
		require.True(t, errors.As(err, &le))
		assert.Equal(t, "open", le.Op)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("empty ledger is valid", func(t *testing.T) {
		l, err := Decode(bytes.NewReader(hdr(Magic, 0)))
		require.NoError(t, err)
		assert.Empty(t, l.Records)
	})
}

func TestCoverage(t *testing.T) {
	base := Header{StartSector: 5, SectorCount: 3}
	cases := map[string][]SectorChecksum{
		"short":     {{Sector: 5}, {Sector: 6}},
		"duplicate": {{Sector: 5}, {Sector: 5}, {Sector: 6}},
		"outside":   {{Sector: 5}, {Sector: 6}, {Sector: 8}},
	}
	for name, recs := range cases {
		t.Run(name, func(t *testing.T) {
			l := &Ledger{Header: base, Records: recs}
			assert.Error(t, l.Coverage())
		})
	}
	ok := &Ledger{Header: base, Records: []SectorChecksum{{Sector: 7}, {Sector: 5}, {Sector: 6}}}
	assert.NoError(t, ok.Coverage(), "order does not matter")
}
