// Package cancel provides the per-operation cancellation flag observed by
// every engine worker.
package cancel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrCancelled = errors.New("operation cancelled")

// Token is a one-way flag. Once cancelled it stays cancelled.
type Token struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
	stop func() bool
}

// New returns a token that fires only on Cancel.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// WithContext returns a token that also fires when ctx is done. Call Release
// when the operation ends.
func WithContext(ctx context.Context) *Token {
	t := New()
	if ctx == nil {
		return t
	}
	if ctx.Err() != nil {
		t.Cancel()
		return t
	}
	if ctx.Done() != nil {
		t.stop = context.AfterFunc(ctx, t.Cancel)
	}
	return t
}

// Release detaches the token from its context.
func (t *Token) Release() {
	if t.stop != nil {
		t.stop()
	}
}

// Cancel sets the flag and wakes every waiter. Safe to call repeatedly and
// from any goroutine.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.flag.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool { return t.flag.Load() }

// Done is closed on cancellation.
func (t *Token) Done() <-chan struct{} { return t.done }

// Err returns ErrCancelled once the token has fired, nil before.
func (t *Token) Err() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Sleep waits for d or until cancellation, whichever comes first, and reports
// whether the token fired.
func (t *Token) Sleep(d time.Duration) bool {
	if t.Cancelled() {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return t.Cancelled()
	}
}
