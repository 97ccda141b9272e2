package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Issue is a single schema violation.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ValidationError reports a configuration that does not satisfy the schema.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid configuration"
	}
	msg := "invalid configuration: " + e.Issues[0].String()
	if n := len(e.Issues) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

// Validate checks a YAML configuration document against the embedded CUE
// schema. The document is checked as written, so explicit zero values are
// seen by the schema.
func Validate(document []byte) error {
	var raw any
	if err := yaml.Unmarshal(document, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	doc := ctx.CompileBytes(data, cue.Filename("autotest.yaml"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return newValidationError(err)
	}
	return nil
}

func newValidationError(err error) *ValidationError {
	verr := &ValidationError{}
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issue := Issue{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if key := issue.String(); !seen[key] {
			seen[key] = true
			verr.Issues = append(verr.Issues, issue)
		}
	}
	if len(verr.Issues) == 0 {
		verr.Issues = append(verr.Issues, Issue{Message: err.Error()})
	}
	return verr
}
