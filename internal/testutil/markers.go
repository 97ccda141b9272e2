// Package testutil provides helpers for tests that drive the harness with
// scripted subjects.
package testutil

import (
	"fmt"
	"strings"
)

// Start returns a start-of-test marker line.
func Start(name string) string {
	return fmt.Sprintf("<!-- Start %s -->", name)
}

// Finish returns an end-of-test marker line.
func Finish(name, status string) string {
	return fmt.Sprintf("<!-- Finish %s %s -->", name, status)
}

// Completed returns an end-of-iteration marker line with a summary like the
// one printed by the FreeNOS test runner.
func Completed(status string, passed, failed int) string {
	return fmt.Sprintf("<!-- Completed %s (%d passed %d failed 0 skipped %d total) -->",
		status, passed, failed, passed+failed)
}

// Report returns the lines of a small, well-formed JUnit document for one
// test.
func Report(name string, ok bool) []string {
	result := `      <!-- OK -->`
	if !ok {
		result = `      <failure message="assertion failed" type="error" />`
	}
	return []string{
		`<?xml version="1.0" encoding="UTF-8" ?>`,
		fmt.Sprintf(`<testsuites id="%s" name="%s">`, name, name),
		fmt.Sprintf(`<testsuite id="%s" name="%s" tests="1">`, name, name),
		fmt.Sprintf(`   <testcase id="%s.run" name="%s.run">`, name, name),
		result,
		`   </testcase>`,
		`</testsuite>`,
		`</testsuites>`,
	}
}

// Test describes one test of a scripted suite.
type Test struct {
	Name   string
	Status string   // OK, FAIL or SKIP; empty means OK
	Body   []string // captured lines; nil means a generated well-formed report
}

// Iteration returns the marker-delimited output of one pass over tests,
// terminated by a Completed marker whose status reflects the tests.
func Iteration(tests ...Test) []string {
	var lines []string
	passed, failed := 0, 0
	for _, tc := range tests {
		status := tc.Status
		if status == "" {
			status = "OK"
		}
		body := tc.Body
		if body == nil {
			body = Report(tc.Name, status != "FAIL")
		}

		lines = append(lines, Start(tc.Name))
		lines = append(lines, body...)
		lines = append(lines, Finish(tc.Name, status))

		if status == "FAIL" {
			failed++
		} else {
			passed++
		}
	}

	status := "OK"
	if failed > 0 {
		status = "FAIL"
	}
	return append(lines, Completed(status, passed, failed))
}

// Suite repeats Iteration n times, preceded by some boot noise.
func Suite(n int, tests ...Test) []string {
	lines := []string{"Booting kernel...", "Starting services"}
	for i := 0; i < n; i++ {
		lines = append(lines, Iteration(tests...)...)
	}
	return lines
}

// Join joins lines with CRLF line endings, as a serial console prints them.
func Join(lines []string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}
