package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/autotest/internal/protocol"
)

// State is a state of the run state machine.
type State string

const (
	StateStarting   State = "STARTING"
	StatePromptWait State = "PROMPT_WAIT"
	StateRunning    State = "RUNNING"
	StateSuccess    State = "SUCCESS"
	StateFailure    State = "FAILURE"
	StateTimeout    State = "TIMEOUT"
	StateError      State = "ERROR"
)

// Terminal reports whether s ends the run.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateTimeout, StateError:
		return true
	}
	return false
}

// Status is the terminal status of a run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
)

// Process exit codes. ExitUsage is used by the CLI for command-line and
// configuration errors.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitTimeout = 3
	ExitError   = 4
)

// ExitCode maps the status to the harness's process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return ExitSuccess
	case StatusFailure:
		return ExitFailure
	case StatusTimeout:
		return ExitTimeout
	default:
		return ExitError
	}
}

func (s Status) state() State {
	return State(s)
}

// TimeoutError reports that the watchdog fired before the run finished.
type TimeoutError struct {
	Timeout    time.Duration
	Iterations int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v", e.Timeout)
}

// IsTimeout returns true if err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ErrInterrupted is the error of a run stopped through its context.
var ErrInterrupted = errors.New("interrupted")

// Report describes one test record and the report file written for it.
type Report struct {
	Name      string          `json:"name"`
	Iteration int             `json:"iteration"`
	Status    protocol.Status `json:"status"`
	Malformed bool            `json:"malformed,omitempty"`

	// Path is empty if the report could not be written.
	Path string `json:"path,omitempty"`
}

// Outcome is the result of a run. It is produced exactly once per run.
type Outcome struct {
	RunID  string `json:"run_id"`
	Mode   string `json:"mode"`
	Status Status `json:"status"`
	Reason string `json:"reason"`

	// Iterations is the number of completed iterations; Target the number
	// required for success.
	Iterations int `json:"iterations"`
	Target     int `json:"target"`

	Tests       int `json:"tests"`
	Failed      int `json:"failed"`
	WriteErrors int `json:"write_errors,omitempty"`

	Reports []Report `json:"reports"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Err is the error that ended the run, if any.
	Err error `json:"-"`
}

// Duration returns the wall-clock length of the run.
func (o *Outcome) Duration() time.Duration {
	return o.Finished.Sub(o.Started)
}

// ExitCode returns the process exit code for the outcome.
func (o *Outcome) ExitCode() int {
	return o.Status.ExitCode()
}

// Summary returns a single-line description such as
// "SUCCESS after 3/3 iteration(s): all tests passed".
func (o *Outcome) Summary() string {
	return fmt.Sprintf("%s after %d/%d iteration(s): %s", o.Status, o.Iterations, o.Target, o.Reason)
}
