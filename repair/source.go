package repair

import (
	"fmt"

	"sectorcrc/backupblob"
	"sectorcrc/blockdev"
	"sectorcrc/ledger"
)

// Source supplies candidate bytes for a sector.
type Source interface {
	Name() string
	ReadSector(n uint64) ([]byte, error)
	Close() error
}

// vetter is implemented by sources that can refuse a sector up front.
type vetter interface {
	Offers(sector uint64, expected uint32) bool
}

// DeviceSource reads candidates from an explicit backup device or image.
type DeviceSource struct {
	dev *blockdev.Device
}

// NewDeviceSource returns a read-only source over path. The device is opened
// on first read.
func NewDeviceSource(path string, sectorSize int) *DeviceSource {
	return &DeviceSource{dev: blockdev.New(path, sectorSize, blockdev.ReadOnly)}
}

func (s *DeviceSource) Name() string                       { return "device " + s.dev.Path() }
func (s *DeviceSource) ReadSector(n uint64) ([]byte, error) { return s.dev.ReadAt(n) }
func (s *DeviceSource) Close() error                       { return s.dev.Close() }

// BlobSource reads candidates from a backup blob.
type BlobSource struct {
	blob *backupblob.Blob
}

// OpenBlobSource indexes the blob at path.
func OpenBlobSource(path string, sectorSize int) (*BlobSource, error) {
	b, err := backupblob.Open(path, sectorSize)
	if err != nil {
		return nil, err
	}
	return &BlobSource{blob: b}, nil
}

func (s *BlobSource) Name() string                       { return "blob " + s.blob.Path() }
func (s *BlobSource) ReadSector(n uint64) ([]byte, error) { return s.blob.ReadSector(n) }
func (s *BlobSource) Close() error                       { return s.blob.Close() }

// AlternateSource is a second device that carries its own ledger. A sector is
// only offered when that ledger agrees on the expected CRC or has no record
// for it.
type AlternateSource struct {
	dev    *blockdev.Device
	ledger *ledger.Ledger
}

// NewAlternateSource pairs the device at path with its already loaded ledger.
func NewAlternateSource(path string, sectorSize int, l *ledger.Ledger) *AlternateSource {
	return &AlternateSource{dev: blockdev.New(path, sectorSize, blockdev.ReadOnly), ledger: l}
}

func (s *AlternateSource) Name() string                       { return "alternate " + s.dev.Path() }
func (s *AlternateSource) ReadSector(n uint64) ([]byte, error) { return s.dev.ReadAt(n) }
func (s *AlternateSource) Close() error                       { return s.dev.Close() }

func (s *AlternateSource) Offers(sector uint64, expected uint32) bool {
	if s.ledger == nil {
		return true
	}
	rec, ok := s.ledger.Lookup(sector)
	return !ok || rec.CRC == expected
}

// Options names the candidate sources for one repair run. Empty fields are
// skipped.
type Options struct {
	BackupDevice    string
	BackupBlob      string
	AlternateDevice string
	AlternateLedger *ledger.Ledger
	SectorSize      int
}

// Empty reports whether no source is configured.
func (o Options) Empty() bool {
	return o.BackupDevice == "" && o.BackupBlob == "" && o.AlternateDevice == ""
}

// Chain is the ordered list of sources tried for each sector.
type Chain []Source

// BuildChain opens the configured sources in their fixed order: backup
// device, backup blob, alternate device.
func BuildChain(o Options) (Chain, error) {
	var c Chain
	if o.BackupDevice != "" {
		c = append(c, NewDeviceSource(o.BackupDevice, o.SectorSize))
	}
	if o.BackupBlob != "" {
		b, err := OpenBlobSource(o.BackupBlob, o.SectorSize)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("backup blob: %w", err)
		}
		c = append(c, b)
	}
	if o.AlternateDevice != "" {
		c = append(c, NewAlternateSource(o.AlternateDevice, o.SectorSize, o.AlternateLedger))
	}
	return c, nil
}

// Close closes every source and returns the first error.
func (c Chain) Close() error {
	var first error
	for _, s := range c {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
