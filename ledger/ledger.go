// Package ledger reads and writes the binary checksum ledger.
//
// Layout, all little endian:
//
//	offset 0   u32 magic (0x43524344, "CRCD")
//	offset 4   u64 start sector
//	offset 12  u64 sector count
//	offset 20  u64 timestamp (seconds since epoch)
//	offset 28  count x {u64 sector, u32 crc, u64 timestamp}
//
// Records are packed, 20 bytes each, in the order they were appended.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	Magic           uint32 = 0x43524344 // "CRCD"
	FilesystemMagic uint32 = 0x46534352 // "FSCR", written by filesystem-level tools

	HeaderSize = 28
	RecordSize = 20

	countOffset = 12
)

var (
	ErrBadMagic         = errors.New("ledger: bad magic")
	ErrFilesystemLedger = errors.New("ledger: filesystem-level ledger, not a sector ledger")
	ErrTruncated        = errors.New("ledger: truncated")
)

// Error wraps an I/O failure on a ledger file.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string { return "ledger " + e.Op + " " + e.Path + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// SectorChecksum is one ledger record.
type SectorChecksum struct {
	Sector    uint64
	CRC       uint32
	Timestamp uint64
}

// Header is the fixed ledger prefix.
type Header struct {
	Magic       uint32
	StartSector uint64
	SectorCount uint64
	Timestamp   uint64
}

// End returns the first sector past the declared range.
func (h Header) End() uint64 { return h.StartSector + h.SectorCount }

// Ledger is a decoded ledger file. It is not modified after Load.
type Ledger struct {
	Header
	Records []SectorChecksum

	indexOnce sync.Once
	index     map[uint64]SectorChecksum
}

// Index returns the records keyed by sector number. Built on first use and
// safe for concurrent readers.
func (l *Ledger) Index() map[uint64]SectorChecksum {
	l.indexOnce.Do(func() {
		l.index = make(map[uint64]SectorChecksum, len(l.Records))
		for _, r := range l.Records {
			l.index[r.Sector] = r
		}
	})
	return l.index
}

// Lookup returns the record for sector, if present.
func (l *Ledger) Lookup(sector uint64) (SectorChecksum, bool) {
	r, ok := l.Index()[sector]
	return r, ok
}

// Sorted returns a copy of the records ordered by sector number.
func (l *Ledger) Sorted() []SectorChecksum {
	out := make([]SectorChecksum, len(l.Records))
	copy(out, l.Records)
	sortRecords(out)
	return out
}

// Coverage checks that every sector of [StartSector, StartSector+SectorCount)
// appears exactly once and that nothing outside that range is recorded.
func (l *Ledger) Coverage() error {
	if uint64(len(l.Records)) != l.SectorCount {
		return fmt.Errorf("ledger: %d records for declared count %d", len(l.Records), l.SectorCount)
	}
	seen := make(map[uint64]struct{}, len(l.Records))
	for _, r := range l.Records {
		if r.Sector < l.StartSector || r.Sector >= l.End() {
			return fmt.Errorf("ledger: sector %d outside [%d, %d)", r.Sector, l.StartSector, l.End())
		}
		if _, dup := seen[r.Sector]; dup {
			return fmt.Errorf("ledger: sector %d recorded twice", r.Sector)
		}
		seen[r.Sector] = struct{}{}
	}
	return nil
}

func sortRecords(recs []SectorChecksum) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Sector < recs[j].Sector })
}
