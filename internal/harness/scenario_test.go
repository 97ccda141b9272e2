package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenarios found")

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, s.Name, "scenario name should match its file name")

			out, cfg := RunScenario(t, s)
			for _, err := range CheckExpectations(out, s.Expect, cfg.OutputDir) {
				t.Error(err)
			}
			if t.Failed() {
				t.Logf("outcome: %s", out.Summary())
			}
		})
	}
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: d\nsubject: {output: x}\nexpect: {status: SUCCESS, report: [a]}\n",
			wantErr: "field report not found",
		},
		{
			name:    "missing name",
			content: "description: d\nsubject: {output: x}\nexpect: {status: SUCCESS}\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\nsubject: {output: x}\nexpect: {status: SUCCESS}\n",
			wantErr: "description is required",
		},
		{
			name:    "empty subject",
			content: "name: x\ndescription: d\nexpect: {status: SUCCESS}\n",
			wantErr: "subject needs output or tail",
		},
		{
			name:    "unknown mode",
			content: "name: x\ndescription: d\nconfig: {mode: soak}\nsubject: {output: x}\nexpect: {status: SUCCESS}\n",
			wantErr: `unknown mode "soak"`,
		},
		{
			name:    "bad status",
			content: "name: x\ndescription: d\nsubject: {output: x}\nexpect: {status: PASSED}\n",
			wantErr: "expect.status",
		},
		{
			name:    "bad duration",
			content: "name: x\ndescription: d\nconfig: {timeout: soon}\nsubject: {output: x}\nexpect: {status: TIMEOUT}\n",
			wantErr: `invalid duration "soon"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "scenario.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestScenario_RunConfigDefaults(t *testing.T) {
	s := &Scenario{Name: "x", Description: "d", Subject: SubjectSpec{Output: "x\n"}}
	cfg := s.RunConfig(t)

	assert.Equal(t, "test", cfg.Mode)
	assert.Equal(t, 1, cfg.Iterations)
	assert.NoError(t, cfg.Validate())
	assert.DirExists(t, cfg.OutputDir)
	assert.Contains(t, cfg.Command, "subject.sh")
}
