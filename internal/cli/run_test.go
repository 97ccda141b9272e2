package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autotest/internal/config"
	"github.com/roach88/autotest/internal/store"
	"github.com/roach88/autotest/internal/testutil"
)

func suiteSubject(t *testing.T, iterations int, tests ...testutil.Test) string {
	t.Helper()
	return testutil.Subject{
		Prompt: "login: ",
		Reads:  1,
		Output: testutil.Join(testutil.Suite(iterations, tests...)),
		Tail:   "exec sleep 30",
	}.Command(t)
}

func subjectConfig(t *testing.T, command, outputDir string) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf(`vars:
  SUBJECT: %q
command: "${SUBJECT}"
prompt: "login: "
input: "root\n"
output_dir: %q
grace: 100ms
modes:
  test:
    timeout: 30s
  stress:
    iterations: 3
    timeout: 30s
`, command, outputDir))
}

func TestRun_Success(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "reports")
	path := subjectConfig(t, suiteSubject(t, 1, testutil.Test{Name: "/test/a"}, testutil.Test{Name: "/test/b"}), outputDir)

	stdout, _, err := execute(t, "--config", path, "run")
	require.NoError(t, err)

	assert.Contains(t, stdout, "login: > root")
	assert.Contains(t, stdout, "autotest: SUCCESS after 1/1 iteration(s): all tests passed\n")
	assert.FileExists(t, filepath.Join(outputDir, "test", "a.1.xml"))
	assert.FileExists(t, filepath.Join(outputDir, "test", "b.1.xml"))
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		subject testutil.Subject
		args    []string
		want    int
		summary string
	}{
		{
			name: "failure",
			subject: testutil.Subject{
				Output: testutil.Join(testutil.Iteration(testutil.Test{Name: "a", Status: "FAIL"})),
				Tail:   "exec sleep 30",
			},
			want:    ExitFailure,
			summary: "autotest: FAILURE after 1/1 iteration(s): 1 of 1 test(s) failed",
		},
		{
			name:    "timeout",
			subject: testutil.Subject{Output: "booting\n", Tail: "exec sleep 30"},
			args:    []string{"--timeout", "300ms"},
			want:    ExitTimeout,
			summary: "autotest: TIMEOUT after 0/1 iteration(s): timed out after 300ms",
		},
		{
			name:    "early exit",
			subject: testutil.Subject{Output: testutil.Lines(testutil.Start("a"), "<a>"), Tail: "exit 0"},
			want:    ExitRunError,
			summary: "autotest: ERROR after 0/1 iteration(s): unexpected end of output during test a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"run",
				"--command", tt.subject.Command(t),
				"--output", t.TempDir(),
			}
			args = append(args, tt.args...)

			stdout, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, tt.want, GetExitCode(err))
			assert.Contains(t, stdout, tt.summary)
		})
	}
}

func TestRun_SpawnErrorExitCode(t *testing.T) {
	_, _, err := execute(t, "run",
		"--command", filepath.Join(t.TempDir(), "missing-emulator"),
		"--output", t.TempDir(),
	)
	require.Error(t, err)
	assert.Equal(t, ExitRunError, GetExitCode(err))
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"explicit config missing", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "run", "--command", "true"}},
		{"no command", []string{"--config", filepath.Join(t.TempDir(), "absent", "autotest.yaml"), "run"}},
		{"bad var", []string{"run", "--command", "true", "--var", "NOEQUALS"}},
		{"undefined var", []string{"run", "--command", "${AUTOTEST_TEST_UNDEFINED}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestStress_Iterations(t *testing.T) {
	outputDir := t.TempDir()
	path := subjectConfig(t, suiteSubject(t, 5, testutil.Test{Name: "a"}), outputDir)

	stdout, _, err := execute(t, "--config", path, "stress", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "autotest: SUCCESS after 5/5 iteration(s)")
	for i := 1; i <= 5; i++ {
		assert.FileExists(t, filepath.Join(outputDir, fmt.Sprintf("a.%d.xml", i)))
	}
}

func TestStress_ModeDefaults(t *testing.T) {
	outputDir := t.TempDir()
	path := subjectConfig(t, suiteSubject(t, 3, testutil.Test{Name: "a"}), outputDir)

	stdout, _, err := execute(t, "--config", path, "stress")
	require.NoError(t, err)
	assert.Contains(t, stdout, "after 3/3 iteration(s)")
}

func TestStress_Continue(t *testing.T) {
	var lines []string
	lines = append(lines, testutil.Iteration(testutil.Test{Name: "a", Status: "FAIL"})...)
	lines = append(lines, testutil.Iteration(testutil.Test{Name: "a"})...)
	command := testutil.Subject{Output: testutil.Join(lines), Tail: "exec sleep 30"}.Command(t)

	stdout, _, err := execute(t, "stress", "--command", command, "--output", t.TempDir(), "-n", "2", "--continue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "FAILURE after 2/2 iteration(s)")

	stdout, _, err = execute(t, "stress", "--command", command, "--output", t.TempDir(), "-n", "2")
	require.Error(t, err)
	assert.Contains(t, stdout, "FAILURE after 1/2 iteration(s)")
}

func TestRun_JSONOutput(t *testing.T) {
	command := testutil.Subject{
		Output: testutil.Join(testutil.Iteration(testutil.Test{Name: "a"})),
		Tail:   "exec sleep 30",
	}.Command(t)

	stdout, stderr, err := execute(t, "--format", "json", "run", "--command", command, "--output", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), "stdout must hold only the JSON response")
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.RunID)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "SUCCESS", data["status"])
	assert.Equal(t, float64(1), data["tests"])
	assert.Contains(t, stderr, "<!-- Completed OK", "subject output is echoed to stderr")
}

func TestRun_JSONFailure(t *testing.T) {
	command := testutil.Subject{
		Output: testutil.Join(testutil.Iteration(testutil.Test{Name: "a", Status: "FAIL"})),
		Tail:   "exec sleep 30",
	}.Command(t)

	stdout, _, err := execute(t, "--format", "json", "run", "--command", command, "--output", t.TempDir())
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRunFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "FAILURE after 1/1")
}

func TestRun_RecordsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	command := testutil.Subject{
		Output: testutil.Join(testutil.Iteration(testutil.Test{Name: "a"}, testutil.Test{Name: "b"})),
		Tail:   "exec sleep 30",
	}.Command(t)

	rootOpts := &RootOptions{Format: "text", Config: filepath.Join(t.TempDir(), "none.yaml"), Database: dbPath}
	opts := &RunOptions{
		RootOptions: rootOpts,
		Command:     command,
		OutputDir:   t.TempDir(),
		IDGenerator: testutil.NewFixedIDGenerator("cli"),
	}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(&syncBuffer{})
	cmd.SetErr(&syncBuffer{})

	require.NoError(t, runHarness(opts, config.ModeTest, cmd))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, tests, err := st.ReadRun(context.Background(), "cli-1")
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", run.Status)
	assert.Equal(t, command, run.Command)
	assert.Len(t, tests, 2)
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"A=1", "B=x=y", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "EMPTY": ""}, vars)

	for _, bad := range []string{"NOVALUE", "=value"} {
		_, err := parseVars([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestUnescapeInput(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`root\n`, "root\n"},
		{`a\tb\r\n`, "a\tb\r\n"},
		{`c:\\n`, `c:\n`},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, unescapeInput(tt.in), tt.in)
	}
}
