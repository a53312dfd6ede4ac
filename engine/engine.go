// Package engine drives checksum generation, verification and repair over a
// block device, either one sector at a time or through a parallel
// reader/processor pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sectorcrc/cancel"
	"sectorcrc/ledger"
)

// Status is the terminal state of an operation.
type Status int

const (
	Succeeded Status = iota
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// State is the sequential engine's position in its read/hash/write loop.
type State int32

const (
	Idle State = iota
	Reading
	Hashing
	Writing
	Done
)

func (s State) String() string {
	return [...]string{"idle", "reading", "hashing", "writing", "done"}[s]
}

// Result reports what an operation did. Sector lists are sorted.
type Result struct {
	Status     Status
	Processed  uint64
	Total      uint64
	Corrupted  []uint64
	Repaired   []uint64
	Unrepaired []uint64
	Elapsed    time.Duration
}

// AllValid reports whether a verification found no corrupted sector.
func (r *Result) AllValid() bool { return len(r.Corrupted) == 0 }

func (r *Result) CorruptedCount() int { return len(r.Corrupted) }

// Engine runs operations against one device. Operations on one engine must
// not overlap.
type Engine struct {
	path string
	cfg  Config
	log  *zap.Logger

	onProgress func(processed, total uint64)
	onMismatch func(sector uint64)
	onChecked  func(sector uint64)
	cbMu       sync.Mutex

	mu      sync.Mutex
	token   *cancel.Token
	lastErr string

	state atomic.Int32
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithProgress registers a callback invoked every ProgressEvery sectors and
// once when the operation ends. Calls never overlap.
func WithProgress(fn func(processed, total uint64)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

// WithMismatch registers a callback invoked for each corrupted sector found.
func WithMismatch(fn func(sector uint64)) Option {
	return func(e *Engine) { e.onMismatch = fn }
}

// WithChecked registers a callback invoked once for every sector read and
// hashed, in completion order. Calls never overlap.
func WithChecked(fn func(sector uint64)) Option {
	return func(e *Engine) { e.onChecked = fn }
}

// New returns an engine for the device at devicePath. Zero config fields take
// their defaults.
func New(devicePath string, cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{path: devicePath, cfg: cfg, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(zap.String("device", devicePath), zap.String("mode", string(cfg.Mode)))
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// State returns the current loop state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Cancel stops the running operation. Workers notice at their next check or
// immediately if blocked.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token != nil {
		e.token.Cancel()
	}
}

// LastError returns the message of the most recent failure, or "".
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// ValidateLedger reports whether path holds a loadable ledger.
func (e *Engine) ValidateLedger(path string) bool {
	if _, err := ledger.Load(path); err != nil {
		e.setLastError(err)
		return false
	}
	return true
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.lastErr = ""
		return
	}
	e.lastErr = err.Error()
}

// run is the envelope shared by all operations: it installs a fresh token,
// times the work, and maps its outcome to a Status. Work that completes
// despite a late cancel returns nil and succeeds; unfinished work must return
// cancel.ErrCancelled.
func (e *Engine) run(ctx context.Context, op string, total uint64, fn func(*cancel.Token, *tally) error) (*Result, error) {
	tok := cancel.WithContext(ctx)
	defer tok.Release()

	e.mu.Lock()
	e.token = tok
	e.lastErr = ""
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.token = nil
		e.mu.Unlock()
	}()

	log := e.log.With(zap.String("op", op))
	log.Info("operation started", zap.Uint64("total", total))
	start := time.Now()

	r := &tally{e: e, total: total, every: e.cfg.ProgressEvery}
	err := fn(tok, r)
	r.finish()
	e.setState(Done)

	res := r.result()
	res.Elapsed = time.Since(start)

	switch {
	case errors.Is(err, cancel.ErrCancelled):
		res.Status = Cancelled
		err = fmt.Errorf("%s: %w", op, cancel.ErrCancelled)
	case err != nil:
		res.Status = Failed
	}
	if err != nil {
		e.setLastError(err)
		log.Warn("operation ended", zap.Stringer("status", res.Status),
			zap.Uint64("processed", res.Processed), zap.Error(err))
		return res, err
	}
	log.Info("operation finished",
		zap.Uint64("processed", res.Processed),
		zap.Int("corrupted", len(res.Corrupted)),
		zap.Int("repaired", len(res.Repaired)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// tally accumulates per-operation counters shared by all workers.
type tally struct {
	e     *Engine
	total uint64
	every uint64

	processed atomic.Uint64

	mu         sync.Mutex
	lastReport uint64
	corrupted  []uint64
	repaired   []uint64
	unrepaired []uint64
}

// done records n more processed sectors and reports progress on every
// ProgressEvery boundary.
func (r *tally) done(n uint64) {
	p := r.processed.Add(n)
	if r.e.onProgress == nil || p/r.every == (p-n)/r.every {
		return
	}
	r.report(p)
}

func (r *tally) report(p uint64) {
	r.e.cbMu.Lock()
	defer r.e.cbMu.Unlock()
	if p <= r.lastReport && p != 0 {
		return
	}
	r.lastReport = p
	r.e.onProgress(p, r.total)
}

func (r *tally) finish() {
	if r.e.onProgress != nil {
		r.report(r.processed.Load())
	}
}

func (r *tally) checked(sector uint64) {
	if r.e.onChecked == nil {
		return
	}
	r.e.cbMu.Lock()
	defer r.e.cbMu.Unlock()
	r.e.onChecked(sector)
}

func (r *tally) mismatch(sector uint64) {
	if r.e.onMismatch == nil {
		return
	}
	r.e.cbMu.Lock()
	defer r.e.cbMu.Unlock()
	r.e.onMismatch(sector)
}

// merge folds a worker's findings into the run.
func (r *tally) merge(corrupted, repaired, unrepaired []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupted = append(r.corrupted, corrupted...)
	r.repaired = append(r.repaired, repaired...)
	r.unrepaired = append(r.unrepaired, unrepaired...)
}

func (r *tally) result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Result{
		Processed:  r.processed.Load(),
		Total:      r.total,
		Corrupted:  sorted(r.corrupted),
		Repaired:   sorted(r.repaired),
		Unrepaired: sorted(r.unrepaired),
	}
}

func sorted(s []uint64) []uint64 {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}
