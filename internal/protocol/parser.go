package protocol

import (
	"bytes"

	"github.com/roach88/autotest/internal/report"
)

// Signal is the run-level decision produced by a Completed marker.
type Signal int

const (
	// SignalNone means the run continues.
	SignalNone Signal = iota
	// SignalSuccess means the target number of iterations completed
	// without failures.
	SignalSuccess
	// SignalFailure means the run must stop with a failure.
	SignalFailure
)

func (s Signal) String() string {
	switch s {
	case SignalSuccess:
		return "success"
	case SignalFailure:
		return "failure"
	default:
		return "none"
	}
}

// Record is the result of one test in one iteration. Records are immutable
// once returned by the parser.
type Record struct {
	Name      string
	Iteration int
	Body      []byte
	Status    Status

	// Malformed is set when the captured body was not well-formed XML.
	// For failed tests Body then holds a fallback document; for passing
	// tests it holds the raw capture.
	Malformed bool

	// MalformedReason describes why the capture was rejected.
	MalformedReason string
}

// Passed reports whether the record does not count as a failure.
func (r *Record) Passed() bool {
	return r.Status.Passed()
}

// Step is the outcome of feeding one line to the parser.
type Step struct {
	Marker Marker

	// Record is set when the line was a Finish marker.
	Record *Record

	// Signal is set when the line was a Completed marker that ends the run.
	Signal Signal

	// Completed is set when the line completed an iteration.
	Completed bool

	// Discarded names a capture that was dropped without a Finish marker,
	// either because another test started or because a Finish marker for
	// a different test arrived.
	Discarded string

	// Unmatched is set when a Finish marker had no matching Start marker.
	// The record is still produced, with an empty capture.
	Unmatched bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithContinueOnFailure keeps the run going after a failed iteration. The
// final iteration then signals failure instead of success.
func WithContinueOnFailure() Option {
	return func(p *Parser) {
		p.continueOnFailure = true
	}
}

// Parser is the buffering state machine over the subject's output lines.
//
// It holds at most one open capture buffer. Parser is not safe for
// concurrent use; the harness feeds it from a single reader.
type Parser struct {
	target            int
	continueOnFailure bool

	open bool
	name string
	buf  bytes.Buffer

	completed        int
	failedTests      int
	failedIterations int
	records          int
}

// NewParser returns a parser that signals success once target iterations
// have completed. A target below one is treated as one.
func NewParser(target int, opts ...Option) *Parser {
	if target < 1 {
		target = 1
	}
	p := &Parser{target: target}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed classifies one line of output and applies it. An error is returned
// only for a malformed stream; the run cannot continue after it.
func (p *Parser) Feed(line string) (Step, error) {
	m := Classify(line)
	step := Step{Marker: m}

	switch m.Kind {
	case KindStart:
		if p.open {
			step.Discarded = p.name
		}
		p.open = true
		p.name = m.Name
		p.buf.Reset()

	case KindFinish:
		step.Record, step.Unmatched, step.Discarded = p.finish(m)

	case KindCompleted:
		if p.open {
			return step, &MalformedStreamError{Open: p.name, Iteration: p.completed + 1}
		}
		p.completed++
		step.Completed = true
		step.Signal = p.complete(m)

	default:
		if p.open {
			p.buf.WriteString(line)
			p.buf.WriteByte('\n')
		}
	}

	return step, nil
}

func (p *Parser) finish(m Marker) (rec *Record, unmatched bool, discarded string) {
	var body []byte
	switch {
	case !p.open:
		unmatched = true
	case p.name != m.Name:
		unmatched = true
		discarded = p.name
	default:
		body = bytes.Clone(p.buf.Bytes())
	}
	p.open = false
	p.name = ""
	p.buf.Reset()

	rec = &Record{
		Name:      m.Name,
		Iteration: p.completed + 1,
		Body:      body,
		Status:    m.Status,
	}
	if err := report.CheckWellFormed(body); err != nil {
		rec.Malformed = true
		rec.MalformedReason = err.Error()
		// Passing tests keep their raw capture so that an inconsistent
		// result stays visible in the report.
		if !rec.Passed() {
			rec.Body = report.Fallback(m.Name, err.Error())
		}
	}

	p.records++
	if !rec.Passed() {
		p.failedTests++
	}
	return rec, unmatched, discarded
}

func (p *Parser) complete(m Marker) Signal {
	if !m.Status.Passed() {
		p.failedIterations++
	}
	failing := p.failedTests > 0 || p.failedIterations > 0

	if failing && !p.continueOnFailure {
		return SignalFailure
	}
	if p.completed >= p.target {
		if failing {
			return SignalFailure
		}
		return SignalSuccess
	}
	return SignalNone
}

// EOF reports the end of the subject's output before a terminal signal.
// It always returns an *UnexpectedEOFError; an open capture is dropped
// without producing a record.
func (p *Parser) EOF() error {
	err := &UnexpectedEOFError{Iterations: p.completed}
	if p.open {
		err.Open = p.name
	}
	p.open = false
	p.name = ""
	p.buf.Reset()
	return err
}

// Iterations returns the number of completed iterations.
func (p *Parser) Iterations() int {
	return p.completed
}

// Target returns the number of iterations required for success.
func (p *Parser) Target() int {
	return p.target
}

// Records returns the number of records produced so far.
func (p *Parser) Records() int {
	return p.records
}

// Failed returns the number of failed records produced so far.
func (p *Parser) Failed() int {
	return p.failedTests
}

// Open returns the name of the test currently being captured.
func (p *Parser) Open() (string, bool) {
	return p.name, p.open
}
