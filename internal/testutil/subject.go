package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Subject is a scripted stand-in for the system under test. It is run by
// /bin/sh and behaves like a booting emulator: it optionally prints a login
// prompt and waits for input, then prints its output and runs Tail.
type Subject struct {
	// Prompt is printed without a trailing newline before input is read.
	Prompt string

	// Reads is the number of input lines read after the prompt. Each line
	// is echoed back as "> line".
	Reads int

	// Output is printed verbatim after the input has been read.
	Output string

	// Tail is shell code run after the output, e.g. "exec sleep 30" to
	// keep the subject alive or "exit 3".
	Tail string
}

// Command writes the subject's script to a temporary directory and returns
// the command line that runs it.
func (s Subject) Command(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()

	data := filepath.Join(dir, "output")
	if err := os.WriteFile(data, []byte(s.Output), 0o644); err != nil {
		t.Fatalf("writing subject output: %v", err)
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if s.Prompt != "" {
		fmt.Fprintf(&b, "printf '%%s' %s\n", Quote(s.Prompt))
	}
	for i := 0; i < s.Reads; i++ {
		b.WriteString("read -r line || exit 1\n")
		b.WriteString("printf '> %s\\n' \"$line\"\n")
	}
	fmt.Fprintf(&b, "cat %s\n", Quote(data))
	if s.Tail != "" {
		b.WriteString(s.Tail)
		b.WriteByte('\n')
	}

	script := filepath.Join(dir, "subject.sh")
	if err := os.WriteFile(script, []byte(b.String()), 0o755); err != nil {
		t.Fatalf("writing subject script: %v", err)
	}
	return "/bin/sh " + Quote(script)
}

// Lines joins lines with LF line endings.
func Lines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// Quote quotes s for a POSIX shell command line.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
