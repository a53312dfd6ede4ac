// Package blockdev provides sector-addressed access to raw block devices and
// disk images.
//
// All positioning is sector*sectorSize; callers never perform partial-sector
// I/O. The package does no retries: every OS failure is surfaced once as a
// *DeviceError carrying a portable Kind.
package blockdev

import (
	"fmt"
	"io"
	"math"
	"os"
)

// Common sector sizes. The engine trusts whatever size the caller supplies.
const (
	DefaultSectorSize = 512
	ModernSectorSize  = 4096
	OpticalSectorSize = 2048
)

// Mode selects the access requested when the handle is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Device is a handle to one device or image. A Device is owned by a single
// goroutine; workers that need concurrent access open their own Device.
type Device struct {
	path       string
	sectorSize int
	mode       Mode
	f          *os.File
}

// New returns a lazily opened device. The OS handle is acquired on first use.
func New(path string, sectorSize int, mode Mode) *Device {
	return &Device{path: NormalizePath(path), sectorSize: sectorSize, mode: mode}
}

// Open returns a device whose handle is already open.
func Open(path string, sectorSize int, mode Mode) (*Device, error) {
	d := New(path, sectorSize, mode)
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the normalized device path.
func (d *Device) Path() string { return d.path }

// SectorSize returns the sector size in bytes.
func (d *Device) SectorSize() int { return d.sectorSize }

// Open acquires the OS handle if it is not held yet. Opening never modifies
// device contents.
func (d *Device) Open() error {
	if d.f != nil {
		return nil
	}
	if d.sectorSize <= 0 {
		return &DeviceError{Op: "open", Path: d.path, Kind: InvalidPath, Code: -1,
			Err: fmt.Errorf("sector size %d", d.sectorSize)}
	}
	f, err := openFile(d.path, d.mode)
	if err != nil {
		return wrapOS("open", d.path, err)
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		f.Close()
		return &DeviceError{Op: "open", Path: d.path, Kind: InvalidPath, Code: -1,
			Err: fmt.Errorf("is a directory")}
	}
	d.f = f
	return nil
}

// Close releases the handle. It is safe to call more than once.
func (d *Device) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	if err != nil {
		return wrapOS("close", d.path, err)
	}
	return nil
}

func (d *Device) offset(op string, sector uint64, sectors int) (int64, error) {
	if sector > uint64(math.MaxInt64/int64(d.sectorSize))-uint64(sectors) {
		return 0, &DeviceError{Op: op, Path: d.path, Sector: sector, HasSector: true,
			Kind: InvalidPath, Code: -1, Err: fmt.Errorf("offset overflows")}
	}
	return int64(sector) * int64(d.sectorSize), nil
}

// ReadAt reads one sector into a fresh buffer.
func (d *Device) ReadAt(sector uint64) ([]byte, error) {
	buf := make([]byte, d.sectorSize)
	if err := d.ReadInto(sector, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto reads one sector into buf, which must be exactly one sector long.
func (d *Device) ReadInto(sector uint64, buf []byte) error {
	if len(buf) != d.sectorSize {
		return &DeviceError{Op: "read", Path: d.path, Sector: sector, HasSector: true,
			Kind: SizeMismatch, Code: -1, Err: fmt.Errorf("buffer %d bytes, sector %d bytes", len(buf), d.sectorSize)}
	}
	return d.readSpan(sector, buf)
}

// ReadRun reads count contiguous sectors starting at first with a single
// positioned read and returns them split per sector.
func (d *Device) ReadRun(first uint64, count int) ([][]byte, error) {
	if count <= 0 {
		return nil, nil
	}
	span := make([]byte, count*d.sectorSize)
	if err := d.readSpan(first, span); err != nil {
		return nil, err
	}
	out := make([][]byte, count)
	for i := range out {
		out[i] = span[i*d.sectorSize : (i+1)*d.sectorSize : (i+1)*d.sectorSize]
	}
	return out, nil
}

func (d *Device) readSpan(first uint64, buf []byte) error {
	if err := d.Open(); err != nil {
		return err
	}
	off, err := d.offset("read", first, len(buf)/d.sectorSize)
	if err != nil {
		return err
	}
	n, err := d.f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		// The failing sector is the first one not fully transferred.
		return &DeviceError{Op: "read", Path: d.path, Sector: first + uint64(n/d.sectorSize), HasSector: true,
			Kind: PartialIO, Code: -1, Err: fmt.Errorf("read %d of %d bytes", n, len(buf))}
	}
	return wrapSector("read", d.path, first+uint64(n/d.sectorSize), err)
}

// WriteAt writes exactly one sector.
func (d *Device) WriteAt(sector uint64, data []byte) error {
	if len(data) != d.sectorSize {
		return &DeviceError{Op: "write", Path: d.path, Sector: sector, HasSector: true,
			Kind: SizeMismatch, Code: -1, Err: fmt.Errorf("data %d bytes, sector %d bytes", len(data), d.sectorSize)}
	}
	if err := d.Open(); err != nil {
		return err
	}
	off, err := d.offset("write", sector, 1)
	if err != nil {
		return err
	}
	n, err := d.f.WriteAt(data, off)
	if err != nil {
		de := wrapSector("write", d.path, sector, err)
		if n > 0 && de.Kind == Other {
			de.Kind = PartialIO
		}
		return de
	}
	if n != len(data) {
		return &DeviceError{Op: "write", Path: d.path, Sector: sector, HasSector: true,
			Kind: PartialIO, Code: -1, Err: fmt.Errorf("wrote %d of %d bytes", n, len(data))}
	}
	return nil
}

// Sync flushes written sectors to the medium.
func (d *Device) Sync() error {
	if d.f == nil {
		return nil
	}
	if err := d.f.Sync(); err != nil {
		return wrapOS("sync", d.path, err)
	}
	return nil
}

// Size returns the device size in bytes (best effort).
func (d *Device) Size() (int64, error) {
	if err := d.Open(); err != nil {
		return 0, err
	}
	size, err := deviceSize(d.f)
	if err != nil {
		return 0, wrapOS("size", d.path, err)
	}
	return size, nil
}

// SectorCount returns the number of whole sectors on the device.
func (d *Device) SectorCount() (uint64, error) {
	size, err := d.Size()
	if err != nil {
		return 0, err
	}
	return uint64(size) / uint64(d.sectorSize), nil
}

// LogicalSectorSize asks the OS for the device's logical sector size. It is a
// hint for the user only; regular image files report 0.
func (d *Device) LogicalSectorSize() int {
	if err := d.Open(); err != nil {
		return 0
	}
	n, err := logicalSectorSize(d.f)
	if err != nil {
		return 0
	}
	return n
}
