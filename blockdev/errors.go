package blockdev

import (
	"errors"
	"fmt"
)

// Kind classifies a device failure independently of the host OS.
type Kind int

// Device failure kinds. A Kind is itself an error so callers can match with
// errors.Is(err, blockdev.Busy).
const (
	Other Kind = iota
	AccessDenied
	NotFound
	InvalidPath
	Busy
	PartialIO
	SizeMismatch
)

func (k Kind) String() string {
	switch k {
	case AccessDenied:
		return "access denied"
	case NotFound:
		return "not found"
	case InvalidPath:
		return "invalid path"
	case Busy:
		return "busy"
	case PartialIO:
		return "partial transfer"
	case SizeMismatch:
		return "size mismatch"
	default:
		return "other"
	}
}

func (k Kind) Error() string { return k.String() }

// hint is the user-facing advice attached to an open failure.
func (k Kind) hint() string {
	switch k {
	case AccessDenied:
		return "run with administrator/root privileges"
	case NotFound:
		return "check the device path"
	case InvalidPath:
		return "path is not a device or image"
	case Busy:
		return "device is in use by another process"
	}
	return ""
}

// DeviceError is returned by every Device operation that touches the OS.
type DeviceError struct {
	Op        string // open, read, write, sync, size
	Path      string
	Sector    uint64
	HasSector bool
	Kind      Kind
	Code      int // OS error number, -1 when not from the OS
	Err       error
}

func (e *DeviceError) Error() string {
	msg := e.Op + " " + e.Path
	if e.HasSector {
		msg += fmt.Sprintf(" sector %d", e.Sector)
	}
	msg += ": " + e.Kind.String()
	if e.Kind == Other && e.Code >= 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if h := e.Kind.hint(); h != "" && e.Op == "open" {
		msg += " (" + h + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is matches a bare Kind.
func (e *DeviceError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf extracts the Kind from err, or Other when err is not a DeviceError.
func KindOf(err error) Kind {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind
	}
	return Other
}

func wrapOS(op, path string, err error) *DeviceError {
	kind, code := classify(err)
	return &DeviceError{Op: op, Path: path, Kind: kind, Code: code, Err: err}
}

func wrapSector(op, path string, sector uint64, err error) *DeviceError {
	de := wrapOS(op, path, err)
	de.Sector = sector
	de.HasSector = true
	return de
}
