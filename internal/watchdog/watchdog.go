// Package watchdog enforces the wall-clock limit of a run.
//
// A Watchdog never reads from or writes to the subject. When it fires it only
// signals the target: first Terminate, then Kill once the grace period has
// passed.
package watchdog

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Target is the process a watchdog guards. Both methods must be idempotent
// and return nil for a process that has already exited.
type Target interface {
	Terminate() error
	Kill() error
}

// CancelFunc stops a running watchdog and returns once its goroutine has
// exited. If the watchdog has already fired, a pending kill escalation is
// abandoned; the caller then owns stopping the target. It may be called any
// number of times, but not from the onExpire callback.
type CancelFunc func()

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the logger used to report signalling failures.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watchdog) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watchdog starts timers against a clock. A single Watchdog may guard any
// number of targets; each Start is independent.
type Watchdog struct {
	clk    clock.Clock
	grace  time.Duration
	logger *slog.Logger
}

// New returns a watchdog that waits grace between Terminate and Kill. A nil
// clock means the real clock.
func New(clk clock.Clock, grace time.Duration, opts ...Option) *Watchdog {
	if clk == nil {
		clk = clock.NewClock()
	}
	w := &Watchdog{
		clk:    clk,
		grace:  grace,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start arms a timer of duration d against target. When it expires, onExpire
// is called (if non-nil) before the target is terminated. A duration of zero
// or less disables the timer.
func (w *Watchdog) Start(target Target, d time.Duration, onExpire func()) CancelFunc {
	if d <= 0 {
		return func() {}
	}

	// The timer is created before Start returns so that fake clocks see the
	// watcher immediately.
	tm := w.clk.NewTimer(d)
	stop := make(chan struct{})
	exited := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(exited)
		select {
		case <-stop:
			tm.Stop()
			return
		case <-tm.C():
			tm.Stop()
		}

		w.logger.Info("watchdog expired", "timeout", d, "grace", w.grace)
		if onExpire != nil {
			onExpire()
		}
		w.escalate(target, stop)
	}()

	return func() {
		once.Do(func() { close(stop) })
		<-exited
	}
}

// escalate terminates target and kills it after the grace period unless stop
// is closed first.
func (w *Watchdog) escalate(target Target, stop <-chan struct{}) {
	if err := target.Terminate(); err != nil {
		w.logger.Warn("watchdog: terminate failed", "error", err)
	}

	if w.grace > 0 {
		g := w.clk.NewTimer(w.grace)
		select {
		case <-g.C():
			g.Stop()
		case <-stop:
			g.Stop()
			w.logger.Debug("watchdog: kill abandoned")
			return
		}
	}

	if err := target.Kill(); err != nil {
		w.logger.Warn("watchdog: kill failed", "error", err)
	}
}
