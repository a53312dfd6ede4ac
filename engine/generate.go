package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sectorcrc/blockdev"
	"sectorcrc/cancel"
	"sectorcrc/checksum"
	"sectorcrc/ledger"
)

// Generate computes the CRC of every sector in [start, start+count) and writes
// the ledger to out. On cancellation or failure the ledger on disk holds the
// records completed so far and its header count says how many.
func (e *Engine) Generate(ctx context.Context, start, count uint64, out string) (*Result, error) {
	return e.run(ctx, "generate", count, func(tok *cancel.Token, r *tally) error {
		if count > math.MaxUint64-start {
			return fmt.Errorf("generate: range %d+%d overflows the sector space", start, count)
		}
		ts := uint64(time.Now().Unix())
		w, err := ledger.Create(out, start, count, ts)
		if err != nil {
			return fmt.Errorf("create ledger: %w", err)
		}

		if e.cfg.Mode == Parallel {
			err = e.generateParallel(tok, r, w, start, count, ts)
		} else {
			err = e.generateSequential(tok, r, w, start, count, ts)
		}

		if errors.Is(err, cancel.ErrCancelled) && w.Count() == count {
			// The cancel arrived after the last record was appended.
			err = nil
		}
		sortIt := e.cfg.SortLedger && err == nil
		if cerr := w.Finalize(sortIt); cerr != nil && err == nil {
			err = fmt.Errorf("finalize ledger: %w", cerr)
		}
		if w.Count() != count {
			e.log.Info("partial ledger written", zap.String("ledger", out),
				zap.Uint64("records", w.Count()), zap.Uint64("declared", count))
		}
		return err
	})
}

func (e *Engine) generateSequential(tok *cancel.Token, r *tally, w *ledger.Writer, start, count, ts uint64) error {
	dev := blockdev.New(e.path, e.cfg.SectorSize, blockdev.ReadOnly)
	defer dev.Close()

	buf := make([]byte, e.cfg.SectorSize)
	for i := uint64(0); i < count; i++ {
		s := start + i
		if tok.Cancelled() {
			return cancel.ErrCancelled
		}
		e.setState(Reading)
		if err := dev.ReadInto(s, buf); err != nil {
			return fmt.Errorf("generate: sector %d: %w", s, err)
		}
		e.setState(Hashing)
		crc := checksum.Sum(buf)
		e.setState(Writing)
		if err := w.Append(ledger.SectorChecksum{Sector: s, CRC: crc, Timestamp: ts}); err != nil {
			return err
		}
		r.checked(s)
		r.done(1)
	}
	return nil
}

// unit is one sector travelling from a reader to a processor.
type unit struct {
	sector uint64
	data   []byte
}

type span struct {
	first, count uint64
}

// split divides [start, start+count) into n contiguous spans. The first
// count%n spans are one sector longer. Empty spans are dropped.
func split(start, count uint64, n int) []span {
	base, rem := count/uint64(n), count%uint64(n)
	spans := make([]span, 0, n)
	next := start
	for i := uint64(0); i < uint64(n); i++ {
		c := base
		if i < rem {
			c++
		}
		if c == 0 {
			continue
		}
		spans = append(spans, span{first: next, count: c})
		next += c
	}
	return spans
}

// generateParallel runs ReaderThreads readers, each on its own device handle,
// feeding a bounded queue drained by ProcessorThreads processors. Readers are
// joined first; closing the queue then tells processors no more work comes.
func (e *Engine) generateParallel(tok *cancel.Token, r *tally, w *ledger.Writer, start, count, ts uint64) error {
	halt, abort := context.WithCancelCause(context.Background())
	defer abort(nil)

	queue := make(chan unit, e.cfg.QueueCapacity())
	var readers, processors errgroup.Group

	for i, sp := range split(start, count, e.cfg.ReaderThreads) {
		i, sp := i, sp
		readers.Go(func() error {
			err := e.readSpan(tok, halt, queue, sp)
			if err != nil {
				e.log.Error("reader failed", zap.Int("reader", i), zap.Error(err))
				abort(err)
			}
			return err
		})
	}
	for i := 0; i < e.cfg.ProcessorThreads; i++ {
		i := i
		processors.Go(func() error {
			err := process(tok, halt, queue, w, r, ts)
			if err != nil {
				e.log.Error("processor failed", zap.Int("processor", i), zap.Error(err))
				abort(err)
			}
			return err
		})
	}

	rerr := readers.Wait()
	close(queue)
	perr := processors.Wait()
	if rerr != nil {
		return rerr
	}
	if perr != nil {
		return perr
	}
	if tok.Cancelled() {
		return cancel.ErrCancelled
	}
	return nil
}

func (e *Engine) readSpan(tok *cancel.Token, halt context.Context, queue chan<- unit, sp span) error {
	dev := blockdev.New(e.path, e.cfg.SectorSize, blockdev.ReadOnly)
	defer dev.Close()

	batch := uint64(e.cfg.BatchSize)
	for off := uint64(0); off < sp.count; off += batch {
		if tok.Cancelled() || halt.Err() != nil {
			return nil
		}
		n := min(batch, sp.count-off)
		first := sp.first + off
		run, err := dev.ReadRun(first, int(n))
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		for i, data := range run {
			select {
			case queue <- unit{sector: first + uint64(i), data: data}:
			case <-tok.Done():
				return nil
			case <-halt.Done():
				return nil
			}
		}
	}
	return nil
}

func process(tok *cancel.Token, halt context.Context, queue <-chan unit, w *ledger.Writer, r *tally, ts uint64) error {
	for {
		select {
		case u, ok := <-queue:
			if !ok {
				return nil
			}
			rec := ledger.SectorChecksum{Sector: u.sector, CRC: checksum.Sum(u.data), Timestamp: ts}
			if err := w.Append(rec); err != nil {
				return err
			}
			r.checked(u.sector)
			r.done(1)
		case <-tok.Done():
			return nil
		case <-halt.Done():
			return nil
		}
	}
}
