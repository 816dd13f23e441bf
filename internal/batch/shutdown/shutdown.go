// Package shutdown implements the process-wide cooperative stop signal
// (spec.md §4.8, C8). Signal handling is installed only on the
// dispatcher goroutine (cmd/adforge's main), never inside worker
// goroutines — re-architected per spec.md's Design Notes away from the
// teacher's per-thread-signal-handler-unsafe pattern, generalizing
// cmd/vire-server/main.go's main-goroutine-only signal.Notify idiom into
// a coordinator any goroutine can poll.
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
	"time"
)

// PollInterval is a 500 ms bound for waits that recheck the shutdown
// signal on a timer (spec.md §4.8/§5: "≤ 500 ms"). No wait in the batch
// packages references it; they select on Done() directly or not at all.
const PollInterval = 500 * time.Millisecond

// Coordinator is a process-wide, trip-counted stop signal. The first
// trip asks in-flight work to wind down; the second forces an immediate
// exit. Every field is accessed only through atomics and channel ops, so
// Coordinator is safe to share across any number of goroutines without
// an external mutex.
type Coordinator struct {
	trips int32
	done  chan struct{}
	exit  func(code int)
}

// New creates a Coordinator. exitFunc defaults to os.Exit if nil; tests
// should pass a recording stub instead.
func New(exitFunc func(code int)) *Coordinator {
	if exitFunc == nil {
		exitFunc = os.Exit
	}
	return &Coordinator{done: make(chan struct{}), exit: exitFunc}
}

// Trip records one shutdown request. The first trip closes Done() and
// logs nothing itself (the caller logs the "finishing current tasks"
// message, since Coordinator has no logger dependency); the second trip
// force-exits the process with a non-zero code.
func (c *Coordinator) Trip() {
	n := atomic.AddInt32(&c.trips, 1)
	if n == 1 {
		close(c.done)
		return
	}
	c.exit(1)
}

// Tripped reports whether Trip has been called at least once.
func (c *Coordinator) Tripped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// TripCount returns the number of times Trip has been called.
func (c *Coordinator) TripCount() int {
	return int(atomic.LoadInt32(&c.trips))
}

// Done returns a channel closed on the first trip. The orchestrator's
// dispatch loop and Sleep select on it; other waits (the broker's
// inter-provider delay, the downloader's retry back-off) do not, and
// are bounded only by their own timers and context.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Sleep blocks for d or until the coordinator trips, whichever comes
// first. Used by the orchestrator's serial (W=1) inter-row delay so a
// shutdown request is never stuck behind a long sleep.
func (c *Coordinator) Sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.done:
	}
}

// InstallSignalHandler registers SIGINT/SIGTERM on the calling goroutine
// (the dispatcher) and trips the coordinator once per received signal.
// It returns a stop function that releases the underlying os/signal
// registration; callers should defer it. Per spec.md §4.8, this must
// only ever be called from the dispatcher — never from a worker.
func (c *Coordinator) InstallSignalHandler(signals ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, signals...)
	stopped := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				c.Trip()
			case <-stopped:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(stopped)
	}
}
