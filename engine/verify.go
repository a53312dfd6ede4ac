package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sectorcrc/blockdev"
	"sectorcrc/cancel"
	"sectorcrc/checksum"
	"sectorcrc/ledger"
	"sectorcrc/repair"
)

// RepairOptions names the sources a repair may copy from. At least one should
// be set; with none every corrupted sector stays unrepaired.
type RepairOptions struct {
	BackupDevice    string
	BackupBlob      string
	AlternateDevice string
	AlternateLedger string // ledger describing AlternateDevice, optional
	DryRun          bool
}

// ErrNothingRepaired is returned when corruption was found but no sector could
// be restored.
var ErrNothingRepaired = errors.New("no corrupted sector could be repaired")

// Verify re-reads every sector recorded in the ledger at ledgerPath and
// compares its CRC. Mismatches are findings, read failures end the run.
func (e *Engine) Verify(ctx context.Context, ledgerPath string) (*Result, error) {
	l, err := ledger.Load(ledgerPath)
	if err != nil {
		e.setLastError(err)
		return &Result{Status: Failed}, err
	}
	return e.VerifyLedger(ctx, l)
}

// VerifyLedger is Verify over an already loaded ledger.
func (e *Engine) VerifyLedger(ctx context.Context, l *ledger.Ledger) (*Result, error) {
	return e.run(ctx, "verify", uint64(len(l.Records)), func(tok *cancel.Token, r *tally) error {
		return e.scan(tok, r, l.Records, nil)
	})
}

// Repair verifies the target against the ledger and restores each corrupted
// sector from the first source whose copy matches the recorded CRC. It
// succeeds when at least one sector was repaired or none was corrupted.
func (e *Engine) Repair(ctx context.Context, ledgerPath string, opts RepairOptions) (*Result, error) {
	l, err := ledger.Load(ledgerPath)
	if err != nil {
		e.setLastError(err)
		return &Result{Status: Failed}, err
	}
	ro := repair.Options{
		BackupDevice:    opts.BackupDevice,
		BackupBlob:      opts.BackupBlob,
		AlternateDevice: opts.AlternateDevice,
		SectorSize:      e.cfg.SectorSize,
	}
	if opts.AlternateLedger != "" {
		if ro.AlternateLedger, err = ledger.Load(opts.AlternateLedger); err != nil {
			err = fmt.Errorf("alternate ledger: %w", err)
			e.setLastError(err)
			return &Result{Status: Failed}, err
		}
	}
	if ro.Empty() {
		e.log.Warn("repair without any backup source")
	}

	return e.run(ctx, "repair", uint64(len(l.Records)), func(tok *cancel.Token, r *tally) error {
		rs := &repairSetup{opts: ro, dryRun: opts.DryRun}
		if err := e.scan(tok, r, l.Records, rs); err != nil {
			return err
		}
		res := r.result()
		if len(res.Corrupted) > 0 && len(res.Repaired) == 0 && !opts.DryRun {
			return fmt.Errorf("repair: %d corrupted: %w", len(res.Corrupted), ErrNothingRepaired)
		}
		return nil
	})
}

type repairSetup struct {
	opts   repair.Options
	dryRun bool
}

// scan splits records across workers, each with its own target handle and,
// when repairing, its own source chain. Sequential mode uses one inline worker.
func (e *Engine) scan(tok *cancel.Token, r *tally, recs []ledger.SectorChecksum, rs *repairSetup) error {
	if e.cfg.Mode != Parallel || e.cfg.VerifyThreads == 1 {
		return e.scanWorker(tok, context.Background(), r, recs, rs)
	}

	halt, abort := context.WithCancelCause(context.Background())
	defer abort(nil)

	var g errgroup.Group
	n := e.cfg.VerifyThreads
	for i, sp := range split(0, uint64(len(recs)), n) {
		i := i
		part := recs[sp.first : sp.first+sp.count]
		g.Go(func() error {
			err := e.scanWorker(tok, halt, r, part, rs)
			if err != nil && !errors.Is(err, cancel.ErrCancelled) {
				e.log.Error("verify worker failed", zap.Int("worker", i), zap.Error(err))
				abort(err)
			}
			return err
		})
	}
	return g.Wait()
}

func (e *Engine) scanWorker(tok *cancel.Token, halt context.Context, r *tally, recs []ledger.SectorChecksum, rs *repairSetup) (err error) {
	mode := blockdev.ReadOnly
	if rs != nil && !rs.dryRun {
		mode = blockdev.ReadWrite
	}
	dev := blockdev.New(e.path, e.cfg.SectorSize, mode)
	defer dev.Close()
	if mode == blockdev.ReadWrite {
		defer func() {
			if serr := dev.Sync(); serr != nil && err == nil {
				err = fmt.Errorf("repair: flush target: %w", serr)
			}
		}()
	}

	var coord *repair.Coordinator
	if rs != nil {
		chain, err := repair.BuildChain(rs.opts)
		if err != nil {
			return err
		}
		defer chain.Close()
		coord = repair.NewCoordinator(dev, chain, repair.WithLogger(e.log), repair.WithDryRun(rs.dryRun))
	}

	var corrupted, repaired, unrepaired []uint64
	defer func() { r.merge(corrupted, repaired, unrepaired) }()

	buf := make([]byte, e.cfg.SectorSize)
	for _, rec := range recs {
		if tok.Cancelled() {
			return cancel.ErrCancelled
		}
		if halt.Err() != nil {
			return nil
		}
		e.setState(Reading)
		if err := dev.ReadInto(rec.Sector, buf); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		e.setState(Hashing)
		r.checked(rec.Sector)
		if checksum.Match(buf, rec.CRC) {
			r.done(1)
			continue
		}
		corrupted = append(corrupted, rec.Sector)
		e.log.Warn("checksum mismatch", zap.Uint64("sector", rec.Sector),
			zap.Uint32("want", rec.CRC), zap.Uint32("got", checksum.Sum(buf)))
		r.mismatch(rec.Sector)

		if coord != nil {
			e.setState(Writing)
			out, err := coord.RepairSector(rec.Sector, rec.CRC)
			if err != nil {
				return err
			}
			if out == repair.Repaired {
				repaired = append(repaired, rec.Sector)
			} else {
				unrepaired = append(unrepaired, rec.Sector)
			}
		}
		r.done(1)
	}
	return nil
}
