// Package report persists the per-test report documents captured by the
// harness.
//
// Every finished test produces one XML document per iteration. Documents are
// written to a fixed layout under the run's output directory:
//
//	<output-dir>/<test-name>.<iteration>.xml
//
// Test names reported by the subject are usually paths (for example
// "/test/lib/libstd/StringTest"), so the leading slash is dropped and the
// remaining components become sub-directories of the output directory.
//
// The package also decides whether a captured body is well-formed XML and can
// synthesize a JUnit fallback document for bodies that are not.
package report
