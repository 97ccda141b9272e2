package protocol

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autotest/internal/report"
	"github.com/roach88/autotest/internal/testutil"
)

// feed runs lines through p until a terminal signal or error and returns the
// produced records.
func feed(t *testing.T, p *Parser, lines []string) ([]*Record, Signal, error) {
	t.Helper()
	var records []*Record
	for _, line := range lines {
		step, err := p.Feed(line)
		if err != nil {
			return records, SignalNone, err
		}
		if step.Record != nil {
			records = append(records, step.Record)
		}
		if step.Signal != SignalNone {
			return records, step.Signal, nil
		}
	}
	return records, SignalNone, nil
}

// summary strips bodies so that records can be compared structurally.
type summary struct {
	Name      string
	Iteration int
	Status    Status
	Malformed bool
}

func summarize(records []*Record) []summary {
	out := make([]summary, 0, len(records))
	for _, r := range records {
		out = append(out, summary{r.Name, r.Iteration, r.Status, r.Malformed})
	}
	return out
}

func TestParser_SingleIterationSuccess(t *testing.T) {
	p := NewParser(1)
	lines := testutil.Suite(1, testutil.Test{Name: "a"}, testutil.Test{Name: "b"})

	records, sig, err := feed(t, p, lines)
	require.NoError(t, err)

	assert.Equal(t, SignalSuccess, sig)
	want := []summary{
		{Name: "a", Iteration: 1, Status: StatusOK},
		{Name: "b", Iteration: 1, Status: StatusOK},
	}
	if diff := cmp.Diff(want, summarize(records)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, p.Iterations())
	assert.Equal(t, 2, p.Records())
	assert.Equal(t, 0, p.Failed())
}

func TestParser_BodyIsCapturedVerbatim(t *testing.T) {
	p := NewParser(1)
	doc := testutil.Report("a", true)
	lines := append([]string{testutil.Start("a")}, doc...)
	lines = append(lines, testutil.Finish("a", "OK"))

	records, _, err := feed(t, p, lines)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, strings.Join(doc, "\n")+"\n", string(records[0].Body))
	assert.False(t, records[0].Malformed)
}

func TestParser_LinesOutsideCaptureAreDiscarded(t *testing.T) {
	p := NewParser(1)
	lines := []string{
		"noise before",
		testutil.Start("a"),
		"<root/>",
		testutil.Finish("a", "OK"),
		"noise between",
	}

	records, _, err := feed(t, p, lines)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "<root/>\n", string(records[0].Body))

	_, open := p.Open()
	assert.False(t, open)
}

func TestParser_FailedTestOverridesCompletedOK(t *testing.T) {
	p := NewParser(1)
	lines := []string{
		testutil.Start("a"),
		"<root/>",
		testutil.Finish("a", "FAIL"),
		// The subject claims success anyway.
		testutil.Completed("OK", 1, 0),
	}

	records, sig, err := feed(t, p, lines)
	require.NoError(t, err)

	assert.Equal(t, SignalFailure, sig)
	require.Len(t, records, 1)
	assert.Equal(t, StatusFail, records[0].Status)
	assert.Equal(t, 1, p.Failed())
}

func TestParser_CompletedFailStopsImmediately(t *testing.T) {
	p := NewParser(3)
	lines := testutil.Suite(1, testutil.Test{Name: "a"})
	lines[len(lines)-1] = testutil.Completed("FAIL", 1, 0)

	_, sig, err := feed(t, p, lines)
	require.NoError(t, err)
	assert.Equal(t, SignalFailure, sig)
	assert.Equal(t, 1, p.Iterations())
}

func TestParser_SkipCountsAsPassing(t *testing.T) {
	p := NewParser(1)
	lines := testutil.Suite(1, testutil.Test{Name: "a", Status: "SKIP"})

	records, sig, err := feed(t, p, lines)
	require.NoError(t, err)
	assert.Equal(t, SignalSuccess, sig)
	require.Len(t, records, 1)
	assert.True(t, records[0].Passed())
}

func TestParser_LoopedIterations(t *testing.T) {
	p := NewParser(3)
	lines := testutil.Suite(3, testutil.Test{Name: "a"}, testutil.Test{Name: "b"})

	var signals []Signal
	var records []*Record
	for _, line := range lines {
		step, err := p.Feed(line)
		require.NoError(t, err)
		if step.Record != nil {
			records = append(records, step.Record)
		}
		if step.Completed {
			signals = append(signals, step.Signal)
		}
	}

	assert.Equal(t, []Signal{SignalNone, SignalNone, SignalSuccess}, signals)
	want := []summary{
		{"a", 1, StatusOK, false}, {"b", 1, StatusOK, false},
		{"a", 2, StatusOK, false}, {"b", 2, StatusOK, false},
		{"a", 3, StatusOK, false}, {"b", 3, StatusOK, false},
	}
	if diff := cmp.Diff(want, summarize(records)); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParser_ContinueOnFailure(t *testing.T) {
	p := NewParser(3, WithContinueOnFailure())

	var lines []string
	lines = append(lines, testutil.Iteration(testutil.Test{Name: "a"})...)
	lines = append(lines, testutil.Iteration(testutil.Test{Name: "a", Status: "FAIL"})...)
	lines = append(lines, testutil.Iteration(testutil.Test{Name: "a"})...)

	var signals []Signal
	for _, line := range lines {
		step, err := p.Feed(line)
		require.NoError(t, err)
		if step.Completed {
			signals = append(signals, step.Signal)
		}
	}

	assert.Equal(t, []Signal{SignalNone, SignalNone, SignalFailure}, signals)
	assert.Equal(t, 3, p.Iterations())
	assert.Equal(t, 1, p.Failed())
}

func TestParser_MalformedFailingBodyGetsFallback(t *testing.T) {
	p := NewParser(1)
	lines := []string{
		testutil.Start("/test/broken"),
		`<testsuites><testsuite name="broken">`,
		testutil.Finish("/test/broken", "FAIL"),
	}

	records, _, err := feed(t, p, lines)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.True(t, rec.Malformed)
	assert.NotEmpty(t, rec.MalformedReason)
	require.NoError(t, report.CheckWellFormed(rec.Body))
	assert.Contains(t, string(rec.Body), `message="parse error"`)

	var doc struct {
		Suites []struct {
			Cases []struct {
				Failure struct {
					Message string `xml:"message,attr"`
				} `xml:"failure"`
			} `xml:"testcase"`
		} `xml:"testsuite"`
	}
	require.NoError(t, xml.Unmarshal(rec.Body, &doc))
	require.Len(t, doc.Suites, 1)
	require.Len(t, doc.Suites[0].Cases, 1)
	assert.Equal(t, report.ParseErrorMessage, doc.Suites[0].Cases[0].Failure.Message)
}

// A malformed body with a passing status is kept as captured. Whether that
// asymmetry is desirable is open; this pins the current behavior.
func TestParser_MalformedPassingBodyIsKept(t *testing.T) {
	p := NewParser(1)
	lines := []string{
		testutil.Start("a"),
		"not xml at all",
		testutil.Finish("a", "OK"),
	}

	records, _, err := feed(t, p, lines)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.True(t, records[0].Malformed)
	assert.Equal(t, "not xml at all\n", string(records[0].Body))
	assert.Equal(t, 0, p.Failed())
}

func TestParser_StartDiscardsOpenCapture(t *testing.T) {
	p := NewParser(1)

	_, err := p.Feed(testutil.Start("a"))
	require.NoError(t, err)
	_, err = p.Feed("<lost/>")
	require.NoError(t, err)

	step, err := p.Feed(testutil.Start("b"))
	require.NoError(t, err)
	assert.Equal(t, "a", step.Discarded)

	name, open := p.Open()
	assert.True(t, open)
	assert.Equal(t, "b", name)

	_, err = p.Feed("<kept/>")
	require.NoError(t, err)
	step, err = p.Feed(testutil.Finish("b", "OK"))
	require.NoError(t, err)
	require.NotNil(t, step.Record)
	assert.Equal(t, "<kept/>\n", string(step.Record.Body))
}

func TestParser_UnmatchedFinish(t *testing.T) {
	tests := []struct {
		name          string
		lines         []string
		wantDiscarded string
	}{
		{
			name:  "no open capture",
			lines: []string{testutil.Finish("a", "FAIL")},
		},
		{
			name:          "different name",
			lines:         []string{testutil.Start("a"), "<x/>", testutil.Finish("b", "FAIL")},
			wantDiscarded: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(1)
			var last Step
			for _, line := range tt.lines {
				var err error
				last, err = p.Feed(line)
				require.NoError(t, err)
			}

			assert.True(t, last.Unmatched)
			assert.Equal(t, tt.wantDiscarded, last.Discarded)
			require.NotNil(t, last.Record)
			assert.True(t, last.Record.Malformed)
			assert.NoError(t, report.CheckWellFormed(last.Record.Body))

			_, open := p.Open()
			assert.False(t, open)
		})
	}
}

func TestParser_CompletedWhileCaptureOpen(t *testing.T) {
	p := NewParser(1)
	lines := []string{
		testutil.Start("a"),
		testutil.Completed("OK", 1, 0),
	}

	_, _, err := feed(t, p, lines)
	require.Error(t, err)
	assert.True(t, IsMalformedStream(err))

	var me *MalformedStreamError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "a", me.Open)
	assert.Equal(t, 1, me.Iteration)
	assert.Equal(t, 0, p.Iterations())
}

func TestParser_EOFAfterStart(t *testing.T) {
	p := NewParser(1)
	records, sig, err := feed(t, p, []string{testutil.Start("a"), "<partial>"})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, SignalNone, sig)

	err = p.EOF()
	require.Error(t, err)
	assert.True(t, IsUnexpectedEOF(err))

	var ue *UnexpectedEOFError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "a", ue.Open)
	assert.Equal(t, 0, ue.Iterations)
	assert.Contains(t, err.Error(), "unexpected end of output")
	assert.Equal(t, 0, p.Records())
}

func TestParser_EOFBetweenIterations(t *testing.T) {
	p := NewParser(2)
	_, sig, err := feed(t, p, testutil.Suite(1, testutil.Test{Name: "a"}))
	require.NoError(t, err)
	assert.Equal(t, SignalNone, sig)

	err = p.EOF()
	var ue *UnexpectedEOFError
	require.ErrorAs(t, err, &ue)
	assert.Empty(t, ue.Open)
	assert.Equal(t, 1, ue.Iterations)
}

func TestNewParser_ClampsTarget(t *testing.T) {
	assert.Equal(t, 1, NewParser(0).Target())
	assert.Equal(t, 1, NewParser(-3).Target())
	assert.Equal(t, 5, NewParser(5).Target())
}

func TestParser_RecordsInStreamOrder(t *testing.T) {
	p := NewParser(1)
	tests := []testutil.Test{{Name: "c"}, {Name: "a"}, {Name: "b", Status: "SKIP"}}

	records, _, err := feed(t, p, testutil.Suite(1, tests...))
	require.NoError(t, err)

	got := summarize(records)
	want := []summary{{Name: "c"}, {Name: "a"}, {Name: "b"}}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(summary{}, "Iteration", "Status")); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
