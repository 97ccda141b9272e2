package protocol

import (
	"errors"
	"fmt"
)

// UnexpectedEOFError reports that the subject's output ended before the
// final iteration completed.
type UnexpectedEOFError struct {
	// Iterations is the number of iterations completed before EOF.
	Iterations int

	// Open is the name of the test whose capture was still open, if any.
	// No record is produced for it.
	Open string
}

func (e *UnexpectedEOFError) Error() string {
	if e.Open != "" {
		return fmt.Sprintf("unexpected end of output during test %s (after %d completed iteration(s))", e.Open, e.Iterations)
	}
	return fmt.Sprintf("unexpected end of output (after %d completed iteration(s))", e.Iterations)
}

// MalformedStreamError reports a Completed marker that arrived while a test
// capture was still open.
type MalformedStreamError struct {
	Open      string
	Iteration int
}

func (e *MalformedStreamError) Error() string {
	return fmt.Sprintf("malformed stream: iteration %d completed while test %s was still running", e.Iteration, e.Open)
}

// IsUnexpectedEOF returns true if err is (or wraps) an UnexpectedEOFError.
func IsUnexpectedEOF(err error) bool {
	var ue *UnexpectedEOFError
	return errors.As(err, &ue)
}

// IsMalformedStream returns true if err is (or wraps) a MalformedStreamError.
func IsMalformedStream(err error) bool {
	var me *MalformedStreamError
	return errors.As(err, &me)
}
