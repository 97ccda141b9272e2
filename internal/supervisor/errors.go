package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// SpawnError reports that the subject could not be started.
type SpawnError struct {
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	if len(e.Argv) == 0 {
		return fmt.Sprintf("spawn: %v", e.Err)
	}
	return fmt.Sprintf("spawn %q: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// PromptNotFoundError reports that the subject's output ended before the
// expected prompt appeared.
type PromptNotFoundError struct {
	Prompt string
	Err    error
}

func (e *PromptNotFoundError) Error() string {
	return fmt.Sprintf("prompt %q not found: %v", e.Prompt, e.Err)
}

func (e *PromptNotFoundError) Unwrap() error {
	return e.Err
}

// IsSpawnError returns true if err is (or wraps) a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// IsPromptNotFound returns true if err is (or wraps) a PromptNotFoundError.
func IsPromptNotFound(err error) bool {
	var pe *PromptNotFoundError
	return errors.As(err, &pe)
}
