// Package shutdown implements the process-wide termination flag shared by
// the run loop and the signal-handling goroutine.
//
// The flag is a tri-state value set at most once per process lifetime:
// SIGTERM requests a graceful stop that still permits one final collection,
// SIGINT requests an immediate abort. Whichever trigger fires first wins;
// the loser is a no-op, so a trailing Ctrl-C can never downgrade a graceful
// shutdown already in progress, nor the other way around.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// State reports whether termination has been requested and how.
type State int32

const (
	// Running means no termination has been requested.
	Running State = iota
	// ShutdownRequested means a graceful stop was requested; one final
	// collection may still run.
	ShutdownRequested
	// AbortRequested means an immediate stop was requested; no further
	// collection may start.
	AbortRequested
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShutdownRequested:
		return "shutdown-requested"
	case AbortRequested:
		return "abort-requested"
	default:
		return "unknown"
	}
}

// WaitResult is the outcome of an interruptible wait.
type WaitResult struct {
	// Interrupted is false when the full duration elapsed, true when the
	// wait returned early because a trigger fired or the context ended.
	Interrupted bool
	// State is the signal state observed at the moment the wait returned.
	// An interrupted wait with State Running means the context was
	// canceled without any termination trigger.
	State State
}

// Signal is the write-once termination flag. The zero value is not usable;
// construct with NewSignal.
type Signal struct {
	state atomic.Int32
	done  chan struct{}
}

// NewSignal returns a Signal in the Running state.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// State returns the current state without blocking.
func (s *Signal) State() State {
	return State(s.state.Load())
}

// Done returns a channel closed once either trigger wins. It is the
// select-able primitive behind Wait.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// RequestShutdown moves Running to ShutdownRequested and reports whether
// this call won the transition. Any later trigger is a no-op.
func (s *Signal) RequestShutdown() bool {
	return s.request(ShutdownRequested)
}

// RequestAbort moves Running to AbortRequested and reports whether this
// call won the transition. Any later trigger is a no-op.
func (s *Signal) RequestAbort() bool {
	return s.request(AbortRequested)
}

func (s *Signal) request(target State) bool {
	if s.state.CompareAndSwap(int32(Running), int32(target)) {
		close(s.done)
		return true
	}
	return false
}

// Wait blocks for up to d, returning early when a trigger fires or ctx is
// canceled. A fired trigger is observed immediately even if it fired before
// the call. The result carries the state seen at return so callers act on
// fresh information rather than assuming the full duration elapsed.
func (s *Signal) Wait(ctx context.Context, d time.Duration) WaitResult {
	select {
	case <-s.done:
		return WaitResult{Interrupted: true, State: s.State()}
	default:
	}

	if d <= 0 {
		return WaitResult{State: s.State()}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return WaitResult{State: s.State()}
	case <-s.done:
		return WaitResult{Interrupted: true, State: s.State()}
	case <-ctx.Done():
		return WaitResult{Interrupted: true, State: s.State()}
	}
}

// Notify wires operating system signals into sig: SIGTERM requests a
// graceful shutdown, SIGINT an abort. The watcher goroutine exits when ctx
// is canceled.
func Notify(ctx context.Context, sig *Signal, log *zap.SugaredLogger) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case received := <-ch:
				switch received {
				case syscall.SIGTERM:
					if sig.RequestShutdown() {
						log.Info("Shutdown requested, will perform final collection and exit")
					} else {
						log.Debugw("Ignoring SIGTERM, termination already requested", "state", sig.State())
					}
				case syscall.SIGINT:
					if sig.RequestAbort() {
						log.Info("Abort requested, stopping without final collection")
					} else {
						log.Debugw("Ignoring SIGINT, termination already requested", "state", sig.State())
					}
				}
			}
		}
	}()
}
