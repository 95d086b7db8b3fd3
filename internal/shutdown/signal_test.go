package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalInitialState(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	assert.Equal(t, Running, sig.State())

	select {
	case <-sig.Done():
		t.Fatal("done channel must not be closed before a trigger fires")
	default:
	}
}

func TestRequestShutdownWinsOnce(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	assert.True(t, sig.RequestShutdown())
	assert.Equal(t, ShutdownRequested, sig.State())

	// Later triggers of either kind are no-ops.
	assert.False(t, sig.RequestShutdown())
	assert.False(t, sig.RequestAbort())
	assert.Equal(t, ShutdownRequested, sig.State())

	select {
	case <-sig.Done():
	default:
		t.Fatal("done channel must be closed after the trigger fired")
	}
}

func TestAbortNeverDowngradedByShutdown(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	assert.True(t, sig.RequestAbort())
	assert.False(t, sig.RequestShutdown())
	assert.Equal(t, AbortRequested, sig.State())
}

func TestConcurrentTriggersExactlyOneWinner(t *testing.T) {
	t.Parallel()

	sig := NewSignal()

	const attempts = 64
	var wg sync.WaitGroup
	wins := make(chan State, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		graceful := i%2 == 0
		go func() {
			defer wg.Done()
			if graceful {
				if sig.RequestShutdown() {
					wins <- ShutdownRequested
				}
			} else {
				if sig.RequestAbort() {
					wins <- AbortRequested
				}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []State
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], sig.State())
}

func TestWaitTimesOutWhenNoTrigger(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	start := time.Now()
	res := sig.Wait(context.Background(), 20*time.Millisecond)

	assert.False(t, res.Interrupted)
	assert.Equal(t, Running, res.State)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitInterruptedByTrigger(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	go func() {
		time.Sleep(10 * time.Millisecond)
		sig.RequestShutdown()
	}()

	start := time.Now()
	res := sig.Wait(context.Background(), 10*time.Second)

	assert.True(t, res.Interrupted)
	assert.Equal(t, ShutdownRequested, res.State)
	assert.Less(t, time.Since(start), 5*time.Second, "wait must return well before the deadline")
}

func TestWaitReturnsImmediatelyWhenAlreadyFired(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	sig.RequestAbort()

	start := time.Now()
	res := sig.Wait(context.Background(), 10*time.Second)

	assert.True(t, res.Interrupted)
	assert.Equal(t, AbortRequested, res.State)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitInterruptedByContext(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := sig.Wait(ctx, 10*time.Second)

	assert.True(t, res.Interrupted)
	assert.Equal(t, Running, res.State, "context cancellation carries no trigger state")
}

func TestWaitZeroDurationDoesNotBlock(t *testing.T) {
	t.Parallel()

	sig := NewSignal()
	res := sig.Wait(context.Background(), 0)
	assert.False(t, res.Interrupted)

	res = sig.Wait(context.Background(), -time.Second)
	assert.False(t, res.Interrupted)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "shutdown-requested", ShutdownRequested.String())
	assert.Equal(t, "abort-requested", AbortRequested.String())
	assert.Equal(t, "unknown", State(42).String())
}
