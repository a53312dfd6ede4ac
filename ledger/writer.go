package ledger

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Writer streams records into a new ledger file. Append may be called from
// several goroutines; records land in call order.
type Writer struct {
	path     string
	declared uint64

	mu     sync.Mutex
	f      *os.File
	bw     *bufio.Writer
	count  uint64
	rec    [RecordSize]byte
	err    error
	closed bool
}

// Create truncates path and writes the header for count records starting at
// start.
func Create(path string, start, count, ts uint64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &Error{Op: "create", Path: path, Err: err}
	}
	w := &Writer{path: path, declared: count, f: f, bw: bufio.NewWriterSize(f, 64*1024)}

	var hdr [HeaderSize]byte
	putHeader(hdr[:], Header{Magic: Magic, StartSector: start, SectorCount: count, Timestamp: ts})
	if _, err := w.bw.Write(hdr[:]); err != nil {
		f.Close()
		return nil, &Error{Op: "write header", Path: path, Err: err}
	}
	return w, nil
}

// Path returns the ledger file path.
func (w *Writer) Path() string { return w.path }

// Append writes one record. After the first failure every call returns the
// same error.
func (w *Writer) Append(r SectorChecksum) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return &Error{Op: "append", Path: w.path, Err: os.ErrClosed}
	}
	putRecord(w.rec[:], r)
	if _, err := w.bw.Write(w.rec[:]); err != nil {
		w.err = &Error{Op: "append", Path: w.path, Err: err}
		return w.err
	}
	w.count++
	return nil
}

// Count returns the number of records appended so far.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes and closes the file. If fewer (or more) records were appended
// than the header declares, the header count is rewritten to the real number
// so the file always loads.
func (w *Writer) Close() error { return w.Finalize(false) }

// Abort is Close for error paths. The partial ledger stays on disk.
func (w *Writer) Abort() error { return w.Finalize(false) }

// Finalize is Close with optional rewriting of the records in sector order.
func (w *Writer) Finalize(sorted bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.err
	if ferr := w.bw.Flush(); ferr != nil && err == nil {
		err = &Error{Op: "flush", Path: w.path, Err: ferr}
	}
	if err == nil && sorted && w.count > 1 {
		err = w.sortInPlace()
	}
	if err == nil && w.count != w.declared {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], w.count)
		if _, perr := w.f.WriteAt(b[:], countOffset); perr != nil {
			err = &Error{Op: "patch header", Path: w.path, Err: perr}
		}
	}
	if cerr := w.f.Close(); cerr != nil && err == nil {
		err = &Error{Op: "close", Path: w.path, Err: cerr}
	}
	return err
}

func (w *Writer) sortInPlace() error {
	buf := make([]byte, w.count*RecordSize)
	if _, err := w.f.ReadAt(buf, HeaderSize); err != nil && err != io.EOF {
		return &Error{Op: "sort", Path: w.path, Err: err}
	}
	recs := make([]SectorChecksum, w.count)
	for i := range recs {
		recs[i] = getRecord(buf[i*RecordSize:])
	}
	sortRecords(recs)
	for i, r := range recs {
		putRecord(buf[i*RecordSize:], r)
	}
	if _, err := w.f.WriteAt(buf, HeaderSize); err != nil {
		return &Error{Op: "sort", Path: w.path, Err: err}
	}
	return nil
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint64(b[4:], h.StartSector)
	binary.LittleEndian.PutUint64(b[12:], h.SectorCount)
	binary.LittleEndian.PutUint64(b[20:], h.Timestamp)
}

func putRecord(b []byte, r SectorChecksum) {
	binary.LittleEndian.PutUint64(b[0:], r.Sector)
	binary.LittleEndian.PutUint32(b[8:], r.CRC)
	binary.LittleEndian.PutUint64(b[12:], r.Timestamp)
}

func getRecord(b []byte) SectorChecksum {
	return SectorChecksum{
		Sector:    binary.LittleEndian.Uint64(b[0:]),
		CRC:       binary.LittleEndian.Uint32(b[8:]),
		Timestamp: binary.LittleEndian.Uint64(b[12:]),
	}
}

// Write encodes a complete ledger to path. Used for ledgers built in memory.
func Write(path string, h Header, recs []SectorChecksum) error {
	w, err := Create(path, h.StartSector, uint64(len(recs)), h.Timestamp)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			w.Abort()
			return fmt.Errorf("write ledger: %w", err)
		}
	}
	return w.Close()
}
