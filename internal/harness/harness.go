package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/roach88/autotest/internal/config"
	"github.com/roach88/autotest/internal/report"
	"github.com/roach88/autotest/internal/store"
	"github.com/roach88/autotest/internal/supervisor"
)

// Subject is the supervised process as seen by the harness.
// Implemented by *supervisor.Process.
type Subject interface {
	InjectAfterPrompt(prompt, text string) error
	ReadLine() (string, bool)
	Terminate() error
	Kill() error
	Stop(grace time.Duration) error
	Close() error
}

// SpawnFunc starts a subject.
type SpawnFunc func(argv []string, opts supervisor.Options) (Subject, error)

// Recorder persists run history. Implemented by *store.Store. Recording
// errors are logged and never affect the outcome.
type Recorder interface {
	RecordRun(ctx context.Context, run store.RunRow) error
	RecordTest(ctx context.Context, test store.TestRow) error
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithEcho sets the writer that receives the subject's output as it is
// read. The default is os.Stdout.
func WithEcho(w io.Writer) Option {
	return func(h *Harness) {
		if w != nil {
			h.echo = w
		}
	}
}

// WithClock sets the clock driving the watchdog and the stop grace period.
func WithClock(clk clock.Clock) Option {
	return func(h *Harness) {
		if clk != nil {
			h.clk = clk
		}
	}
}

// WithRecorder enables run history.
func WithRecorder(r Recorder) Option {
	return func(h *Harness) {
		h.recorder = r
	}
}

// WithIDGenerator sets the generator of run IDs. The default generates
// UUIDv7s.
func WithIDGenerator(g IDGenerator) Option {
	return func(h *Harness) {
		if g != nil {
			h.ids = g
		}
	}
}

// WithSpawner replaces supervisor.Spawn.
func WithSpawner(spawn SpawnFunc) Option {
	return func(h *Harness) {
		if spawn != nil {
			h.spawn = spawn
		}
	}
}

// Harness runs a subject according to a RunConfig.
type Harness struct {
	cfg      config.RunConfig
	logger   *slog.Logger
	echo     io.Writer
	clk      clock.Clock
	recorder Recorder
	ids      IDGenerator
	spawn    SpawnFunc

	mu    sync.Mutex
	state State
}

// New creates a harness for cfg. The configuration is copied; later changes
// by the caller have no effect.
func New(cfg config.RunConfig, opts ...Option) *Harness {
	h := &Harness{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		echo:   os.Stdout,
		clk:    clock.NewClock(),
		ids:    UUIDv7Generator{},
		spawn:  spawnProcess,
		state:  StateStarting,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func spawnProcess(argv []string, opts supervisor.Options) (Subject, error) {
	p, err := supervisor.Spawn(argv, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Config returns the run configuration.
func (h *Harness) Config() config.RunConfig {
	return h.cfg
}

// State returns the current state of the run.
func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Harness) setState(s State) {
	h.mu.Lock()
	prev := h.state
	h.state = s
	h.mu.Unlock()
	h.logger.Debug("state changed", "from", prev, "to", s)
}

// result is a candidate terminal outcome. The reader and the watchdog race
// to deliver one; the first wins.
type result struct {
	status Status
	reason string
	err    error
}

// runState is owned by the reader goroutine until it exits.
type runState struct {
	writer      *report.Writer
	iterations  int
	tests       int
	failed      int
	writeErrors int
	reports     []Report
	failedAt    int // first iteration whose Completed marker was not OK
}
