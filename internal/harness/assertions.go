package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/autotest/internal/report"
)

// ExpectationError describes one unmet expectation.
type ExpectationError struct {
	Field    string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// CheckExpectations compares an outcome and the report files under
// outputDir with exp. It returns every unmet expectation.
func CheckExpectations(out *Outcome, exp Expectation, outputDir string) []error {
	var errs []error
	check := func(field string, want, got any) {
		if fmt.Sprint(want) != fmt.Sprint(got) {
			errs = append(errs, &ExpectationError{Field: field, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)})
		}
	}

	check("status", exp.Status, out.Status)
	if exp.Iterations != nil {
		check("iterations", *exp.Iterations, out.Iterations)
	}
	if exp.Tests != nil {
		check("tests", *exp.Tests, out.Tests)
	}
	if exp.Failed != nil {
		check("failed", *exp.Failed, out.Failed)
	}
	if exp.Reason != "" && !strings.Contains(out.Reason, exp.Reason) {
		errs = append(errs, &ExpectationError{Field: "reason", Expected: fmt.Sprintf("to contain %q", exp.Reason), Actual: fmt.Sprintf("%q", out.Reason)})
	}

	files, err := ReportFiles(outputDir)
	if err != nil {
		return append(errs, fmt.Errorf("listing reports: %w", err))
	}
	if exp.NoReports && len(files) > 0 {
		errs = append(errs, &ExpectationError{Field: "reports", Expected: "none", Actual: strings.Join(files, ", ")})
	}
	if len(exp.Reports) > 0 {
		want := append([]string(nil), exp.Reports...)
		sort.Strings(want)
		check("reports", strings.Join(want, ", "), strings.Join(files, ", "))
	}

	for _, rel := range exp.Fallback {
		if err := checkFallback(filepath.Join(outputDir, filepath.FromSlash(rel))); err != nil {
			errs = append(errs, &ExpectationError{Field: "fallback " + rel, Expected: "a fallback report", Actual: err.Error()})
		}
	}

	return errs
}

// ReportFiles returns the report files under dir as sorted slash-separated
// paths relative to dir. A missing directory has no reports.
func ReportFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && os.IsNotExist(err) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != report.Ext {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func checkFallback(path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := report.CheckWellFormed(body); err != nil {
		return err
	}
	if !strings.Contains(string(body), fmt.Sprintf("message=%q", report.ParseErrorMessage)) {
		return fmt.Errorf("no %q failure entry", report.ParseErrorMessage)
	}
	return nil
}
