// Package repair restores corrupted sectors by copying verified bytes from a
// chain of backup sources onto the target device.
package repair

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sectorcrc/blockdev"
	"sectorcrc/checksum"
)

// ErrExhausted marks a sector no candidate could repair.
var ErrExhausted = errors.New("repair: no valid candidate")

// Outcome is the result of repairing one sector.
type Outcome int

const (
	Repaired Outcome = iota
	AllCandidatesCorrupt
	NoSource
	WriteUnverified
	DryRun
)

func (o Outcome) String() string {
	switch o {
	case Repaired:
		return "repaired"
	case AllCandidatesCorrupt:
		return "all candidates corrupt"
	case NoSource:
		return "no source"
	case WriteUnverified:
		return "write unverified"
	case DryRun:
		return "dry run"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Err returns ErrExhausted for outcomes that leave the sector unrepaired.
func (o Outcome) Err() error {
	switch o {
	case AllCandidatesCorrupt, NoSource:
		return ErrExhausted
	case WriteUnverified:
		return fmt.Errorf("%w: write not confirmed", ErrExhausted)
	}
	return nil
}

// Summary counts outcomes.
type Summary struct {
	Attempted  int
	Repaired   int
	Unrepaired int
}

// Add merges o into s.
func (s *Summary) Add(o Summary) {
	s.Attempted += o.Attempted
	s.Repaired += o.Repaired
	s.Unrepaired += o.Unrepaired
}

// Target is the device being repaired. *blockdev.Device implements it.
type Target interface {
	WriteAt(sector uint64, data []byte) error
	ReadAt(sector uint64) ([]byte, error)
	Sync() error
}

// Coordinator repairs sectors of one target device. It owns no goroutines and
// is used by a single worker.
type Coordinator struct {
	target  Target
	chain   Chain
	log     *zap.Logger
	dryRun  bool
	summary Summary
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDryRun validates candidates without writing them.
func WithDryRun(on bool) Option {
	return func(c *Coordinator) { c.dryRun = on }
}

// NewCoordinator returns a coordinator writing to target. The target must be
// opened read-write unless dry run is enabled.
func NewCoordinator(target Target, chain Chain, opts ...Option) *Coordinator {
	c := &Coordinator{target: target, chain: chain, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Summary returns the counts accumulated by RepairSector.
func (c *Coordinator) Summary() Summary { return c.summary }

// RepairSector tries each source in order. The returned error is non-nil only
// when the target itself cannot be written, which ends the whole repair.
func (c *Coordinator) RepairSector(sector uint64, expected uint32) (Outcome, error) {
	c.summary.Attempted++
	out, err := c.repair(sector, expected)
	if out == Repaired {
		c.summary.Repaired++
	} else {
		c.summary.Unrepaired++
	}
	return out, err
}

func (c *Coordinator) repair(sector uint64, expected uint32) (Outcome, error) {
	log := c.log.With(zap.Uint64("sector", sector))
	if len(c.chain) == 0 {
		log.Warn("no repair source configured")
		return NoSource, nil
	}

	readable := 0
	for _, src := range c.chain {
		if v, ok := src.(vetter); ok && !v.Offers(sector, expected) {
			log.Debug("source ledger disagrees, skipped", zap.String("source", src.Name()))
			continue
		}
		data, err := src.ReadSector(sector)
		if err != nil {
			log.Debug("source unavailable", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		readable++
		if got := checksum.Sum(data); got != expected {
			log.Info("candidate corrupt",
				zap.String("source", src.Name()),
				zap.Uint32("want", expected),
				zap.Uint32("got", got))
			continue
		}
		if c.dryRun {
			log.Info("valid candidate found (dry run)", zap.String("source", src.Name()))
			return DryRun, nil
		}
		return c.write(log, src, sector, data, expected)
	}
	if readable == 0 {
		log.Warn("no source could supply the sector")
		return NoSource, nil
	}
	log.Warn("every candidate failed CRC validation")
	return AllCandidatesCorrupt, nil
}

func (c *Coordinator) write(log *zap.Logger, src Source, sector uint64, data []byte, expected uint32) (Outcome, error) {
	if err := c.target.WriteAt(sector, data); err != nil {
		switch blockdev.KindOf(err) {
		case blockdev.AccessDenied, blockdev.SizeMismatch, blockdev.PartialIO:
			return WriteUnverified, fmt.Errorf("write repaired sector %d: %w", sector, err)
		}
		log.Error("write failed", zap.Error(err))
		return WriteUnverified, nil
	}
	// Flush first so the read-back comes from the medium.
	if err := c.target.Sync(); err != nil {
		if blockdev.KindOf(err) == blockdev.AccessDenied {
			return WriteUnverified, fmt.Errorf("sync repaired sector %d: %w", sector, err)
		}
		log.Error("sync failed", zap.Error(err))
		return WriteUnverified, nil
	}
	back, err := c.target.ReadAt(sector)
	if err != nil {
		log.Error("read-back failed", zap.Error(err))
		return WriteUnverified, nil
	}
	if !checksum.Match(back, expected) {
		log.Error("read-back does not match expected CRC")
		return WriteUnverified, nil
	}
	log.Info("sector repaired", zap.String("source", src.Name()))
	return Repaired, nil
}
