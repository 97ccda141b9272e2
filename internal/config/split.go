package config

import (
	"fmt"

	"github.com/google/shlex"
)

// SplitCommand splits a command line into words using shell quoting rules,
// without performing any expansion. Single quotes preserve everything up to
// the closing quote; a backslash escapes the next character, inside double
// quotes too. An unquoted # starts a comment that runs to the end of the line.
func SplitCommand(line string) ([]string, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("splitting %q: %w", line, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return words, nil
}
