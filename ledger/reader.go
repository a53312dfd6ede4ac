package ledger

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxPrealloc caps the record slice allocated up front from an untrusted
// header count.
const maxPrealloc = 1 << 20

// Load reads and validates the ledger at path.
func Load(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	l, err := Decode(bufio.NewReaderSize(f, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return l, nil
}

// LoadHeader reads only the header of the ledger at path.
func LoadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, &Error{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	h, err := decodeHeader(f)
	if err != nil {
		return Header{}, fmt.Errorf("load %s: %w", path, err)
	}
	return h, nil
}

// Validate reports whether path holds a structurally valid ledger.
func Validate(path string) bool {
	_, err := Load(path)
	return err == nil
}

// Decode reads a ledger from r: the header, then exactly SectorCount records.
func Decode(r io.Reader) (*Ledger, error) {
	h, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	n := h.SectorCount
	if n > maxPrealloc {
		n = maxPrealloc
	}
	l := &Ledger{Header: h, Records: make([]SectorChecksum, 0, n)}

	var buf [RecordSize]byte
	for i := uint64(0); i < h.SectorCount; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: %d of %d records", ErrTruncated, i, h.SectorCount)
			}
			return nil, err
		}
		l.Records = append(l.Records, getRecord(buf[:]))
	}
	return l, nil
}

func decodeHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:4]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: no header", ErrTruncated)
		}
		return Header{}, err
	}
	magic := binary.LittleEndian.Uint32(b[0:])
	switch magic {
	case Magic:
	case FilesystemMagic:
		return Header{}, ErrFilesystemLedger
	default:
		return Header{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}
	if _, err := io.ReadFull(r, b[4:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, fmt.Errorf("%w: short header", ErrTruncated)
		}
		return Header{}, err
	}
	return Header{
		Magic:       magic,
		StartSector: binary.LittleEndian.Uint64(b[4:]),
		SectorCount: binary.LittleEndian.Uint64(b[12:]),
		Timestamp:   binary.LittleEndian.Uint64(b[20:]),
	}, nil
}
