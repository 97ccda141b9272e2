package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autotest/internal/report"
)

func TestStatus_ExitCode(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusSuccess, 0},
		{StatusFailure, 1},
		{StatusTimeout, 3},
		{StatusError, 4},
		{Status("bogus"), 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.ExitCode())
			assert.Equal(t, tt.want, (&Outcome{Status: tt.status}).ExitCode())
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateStarting, StatePromptWait, StateRunning} {
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []State{StateSuccess, StateFailure, StateTimeout, StateError} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusSuccess, StatusFailure, StatusTimeout, StatusError} {
		assert.True(t, s.state().Terminal(), s)
	}
}

func TestOutcome_Summary(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := &Outcome{
		Status:     StatusFailure,
		Reason:     "2 of 9 test(s) failed",
		Iterations: 2,
		Target:     5,
		Started:    start,
		Finished:   start.Add(90 * time.Second),
	}
	assert.Equal(t, "FAILURE after 2/5 iteration(s): 2 of 9 test(s) failed", out.Summary())
	assert.Equal(t, 90*time.Second, out.Duration())
}

func TestTimeoutError(t *testing.T) {
	err := fmt.Errorf("run: %w", &TimeoutError{Timeout: 3 * time.Minute})
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTimeout(ErrInterrupted))
	assert.Equal(t, "timed out after 3m0s", (&TimeoutError{Timeout: 3 * time.Minute}).Error())
}

func TestReportFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	for _, name := range []string{"z.1.xml", "lib/a.2.xml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), nil, 0o644))
	}

	files, err := ReportFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/a.2.xml", "z.1.xml"}, files)

	files, err = ReportFiles(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCheckExpectations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.1.xml"), report.Fallback("a", "bad"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.1.xml"), []byte("<b/>"), 0o644))

	one, two := 1, 2
	out := &Outcome{Status: StatusFailure, Reason: "1 of 2 test(s) failed", Iterations: 1, Tests: 2, Failed: 1}

	t.Run("met", func(t *testing.T) {
		exp := Expectation{
			Status:     StatusFailure,
			Iterations: &one,
			Tests:      &two,
			Failed:     &one,
			Reason:     "test(s) failed",
			Reports:    []string{"b.1.xml", "a.1.xml"},
			Fallback:   []string{"a.1.xml"},
		}
		assert.Empty(t, CheckExpectations(out, exp, dir))
	})

	t.Run("unmet", func(t *testing.T) {
		exp := Expectation{
			Status:    StatusSuccess,
			Failed:    &two,
			Reason:    "all tests passed",
			NoReports: true,
			Fallback:  []string{"b.1.xml"},
		}
		errs := CheckExpectations(out, exp, dir)
		require.Len(t, errs, 5)

		var fields []string
		for _, err := range errs {
			var ee *ExpectationError
			require.ErrorAs(t, err, &ee)
			fields = append(fields, ee.Field)
		}
		assert.Equal(t, []string{"status", "failed", "reason", "reports", "fallback b.1.xml"}, fields)
	})
}
