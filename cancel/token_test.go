package cancel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTokenMonotonic(t *testing.T) {
	tok := New()
	assert.False(t, tok.Cancelled())
	assert.NoError(t, tok.Err())

	tok.Cancel()
	tok.Cancel()
	assert.True(t, tok.Cancelled())
	assert.ErrorIs(t, tok.Err(), ErrCancelled)

	select {
	case <-tok.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestTokenWakesAllWaiters(t *testing.T) {
	tok := New()
	var wg sync.WaitGroup
	woke := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			woke <- tok.Sleep(time.Minute)
		}()
	}
	time.Sleep(5 * time.Millisecond)
	start := time.Now()
	tok.Cancel()
	wg.Wait()
	close(woke)

	assert.Less(t, time.Since(start), time.Second)
	for w := range woke {
		assert.True(t, w)
	}
}

func TestSleepTimesOut(t *testing.T) {
	tok := New()
	assert.False(t, tok.Sleep(10*time.Millisecond))

	tok.Cancel()
	start := time.Now()
	assert.True(t, tok.Sleep(time.Hour))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWithContext(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	tok := WithContext(ctx)
	defer tok.Release()
	assert.False(t, tok.Cancelled())

	cancelCtx()
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("token did not follow context")
	}
	require.ErrorIs(t, tok.Err(), ErrCancelled)
}

func TestWithContextRelease(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	tok := WithContext(ctx)
	tok.Release()
	cancelCtx()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, tok.Cancelled(), "released token ignores its context")

	bg := WithContext(context.Background())
	bg.Release()
	assert.False(t, bg.Cancelled())
}
