// Package backupblob stores copies of individual sectors in a single file.
//
// The file is a plain sequence of entries, each a little-endian u64 sector
// number followed by exactly one sector of data. Later entries for the same
// sector supersede earlier ones.
package backupblob

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var ErrNotFound = errors.New("backupblob: sector not in blob")

const entryHeader = 8

// Writer appends entries to a blob file.
type Writer struct {
	path       string
	sectorSize int

	mu sync.Mutex
	f  *os.File
	bw *bufio.Writer
	n  int
}

// Create opens path for appending, creating it if needed.
func Create(path string, sectorSize int) (*Writer, error) {
	if sectorSize <= 0 {
		return nil, fmt.Errorf("backupblob: sector size %d", sectorSize)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return &Writer{path: path, sectorSize: sectorSize, f: f, bw: bufio.NewWriter(f)}, nil
}

// Add appends one sector.
func (w *Writer) Add(sector uint64, data []byte) error {
	if len(data) != w.sectorSize {
		return fmt.Errorf("backupblob: sector %d is %d bytes, want %d", sector, len(data), w.sectorSize)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var hdr [entryHeader]byte
	binary.LittleEndian.PutUint64(hdr[:], sector)
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if _, err := w.bw.Write(data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of entries written through w.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.bw.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	if err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	return nil
}

// Append adds a single sector to the blob at path.
func Append(path string, sector uint64, data []byte) error {
	w, err := Create(path, len(data))
	if err != nil {
		return err
	}
	if err := w.Add(sector, data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Blob is an indexed, read-only view of a blob file.
type Blob struct {
	path       string
	sectorSize int
	f          *os.File
	index      map[uint64]int64
}

// Open scans the blob once and indexes it. A torn entry at the end of the file
// is ignored.
func Open(path string, sectorSize int) (*Blob, error) {
	if sectorSize <= 0 {
		return nil, fmt.Errorf("backupblob: sector size %d", sectorSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	b := &Blob{path: path, sectorSize: sectorSize, f: f, index: make(map[uint64]int64)}

	r := bufio.NewReader(f)
	var hdr [entryHeader]byte
	var off int64
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			f.Close()
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		n, err := r.Discard(sectorSize)
		if n < sectorSize {
			if err == nil || errors.Is(err, io.EOF) {
				break
			}
			f.Close()
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		b.index[binary.LittleEndian.Uint64(hdr[:])] = off + entryHeader
		off += entryHeader + int64(sectorSize)
	}
	return b, nil
}

// Path returns the blob file path.
func (b *Blob) Path() string { return b.path }

// Len returns the number of distinct sectors in the blob.
func (b *Blob) Len() int { return len(b.index) }

// Has reports whether the blob holds sector n.
func (b *Blob) Has(n uint64) bool {
	_, ok := b.index[n]
	return ok
}

// ReadSector returns the stored bytes for sector n.
func (b *Blob) ReadSector(n uint64) ([]byte, error) {
	off, ok := b.index[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, n)
	}
	buf := make([]byte, b.sectorSize)
	if _, err := b.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read blob sector %d: %w", n, err)
	}
	return buf, nil
}

// Close releases the file.
func (b *Blob) Close() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}
