// Package config loads autotest.yaml and resolves it into the RunConfig of a
// single run.
//
// A file describes the subject once and tunes it per mode:
//
//	vars:
//	  QEMU: qemu-system-i386
//	  BUILDROOT: build/intel/pc
//	command: ${QEMU} -cdrom ${BUILDROOT}/boot.iso -nographic
//	prompt: "login: "
//	input: "root\n/test/run /test -m\n"
//	output_dir: ${BUILDROOT}/test
//	grace: 2s
//	modes:
//	  test:   {timeout: 3m}
//	  stress: {iterations: 10, timeout: 30m}
//
// Files are decoded strictly (unknown keys are errors) and then checked
// against an embedded CUE schema.
package config

import (
	"fmt"
	"time"
)

// Run modes.
const (
	// ModeTest runs the suite once and stops at the first failure.
	ModeTest = "test"
	// ModeStress repeats the suite for a number of iterations.
	ModeStress = "stress"
)

// Defaults applied by Resolve.
const (
	DefaultPath             = "autotest.yaml"
	DefaultTimeout          = 3 * time.Minute
	DefaultGrace            = 2 * time.Second
	DefaultOutputDir        = "build/test"
	DefaultStressIterations = 10
)

// RunConfig is the fully resolved configuration of one run. It is passed by
// value and never modified once the run has started.
type RunConfig struct {
	Mode string

	// Command is the expanded command line of the subject.
	Command string

	// Prompt is the text to wait for before Input is written. If empty,
	// Input is written right after the subject starts.
	Prompt string
	Input  string

	// Timeout bounds the whole run. Zero disables the watchdog.
	Timeout time.Duration

	// Iterations is the number of completed iterations required for
	// success.
	Iterations int

	// ContinueOnFailure keeps a stress run going after a failed iteration.
	ContinueOnFailure bool

	OutputDir string

	// Grace is the delay between terminating and killing the subject.
	Grace time.Duration
}

// Validate checks the invariants the harness relies on.
func (c RunConfig) Validate() error {
	switch {
	case c.Command == "":
		return fmt.Errorf("command is required")
	case c.Iterations < 1:
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	case c.Mode == ModeTest && c.Iterations != 1:
		return fmt.Errorf("test mode runs exactly one iteration, got %d", c.Iterations)
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	case c.Grace < 0:
		return fmt.Errorf("grace must not be negative, got %v", c.Grace)
	case c.OutputDir == "":
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// Looped reports whether the run repeats the suite.
func (c RunConfig) Looped() bool {
	return c.Iterations > 1
}
