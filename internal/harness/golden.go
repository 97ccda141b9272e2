package harness

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// OutcomeSnapshot is the deterministic part of an outcome. Timestamps are
// dropped and report paths are made relative to the output directory.
type OutcomeSnapshot struct {
	RunID      string   `json:"run_id"`
	Mode       string   `json:"mode"`
	Status     Status   `json:"status"`
	Reason     string   `json:"reason"`
	Summary    string   `json:"summary"`
	Iterations int      `json:"iterations"`
	Target     int      `json:"target"`
	Tests      int      `json:"tests"`
	Failed     int      `json:"failed"`
	ExitCode   int      `json:"exit_code"`
	Reports    []Report `json:"reports"`
}

// Snapshot returns the snapshot of out for a run writing to outputDir.
func Snapshot(out *Outcome, outputDir string) OutcomeSnapshot {
	reports := make([]Report, len(out.Reports))
	for i, r := range out.Reports {
		if r.Path != "" {
			if rel, err := filepath.Rel(outputDir, r.Path); err == nil {
				r.Path = filepath.ToSlash(rel)
			}
		}
		reports[i] = r
	}
	return OutcomeSnapshot{
		RunID:      out.RunID,
		Mode:       out.Mode,
		Status:     out.Status,
		Reason:     out.Reason,
		Summary:    out.Summary(),
		Iterations: out.Iterations,
		Target:     out.Target,
		Tests:      out.Tests,
		Failed:     out.Failed,
		ExitCode:   out.ExitCode(),
		Reports:    reports,
	}
}

// AssertGolden compares the snapshot of out against the golden file
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, out *Outcome, outputDir string) {
	t.Helper()

	data, err := json.MarshalIndent(Snapshot(out, outputDir), "", "  ")
	if err != nil {
		t.Fatalf("marshalling outcome snapshot: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
