package config

import (
	"fmt"
	"os"
	"strings"
)

// UndefinedVarError reports a reference to a variable that has no value.
type UndefinedVarError struct {
	Name     string
	Template string
}

func (e *UndefinedVarError) Error() string {
	return fmt.Sprintf("undefined variable %q in %q", e.Name, e.Template)
}

// Expand replaces $NAME and ${NAME} in template with values from vars. "$$"
// stands for a literal dollar sign. A reference to a name missing from vars
// is an error; the environment is never consulted.
func Expand(template string, vars map[string]string) (string, error) {
	var undefined string
	out := os.Expand(template, func(name string) string {
		if name == "$" {
			return "$"
		}
		v, ok := vars[name]
		if !ok && undefined == "" {
			undefined = name
		}
		return v
	})
	if undefined != "" {
		return "", &UndefinedVarError{Name: undefined, Template: template}
	}
	return out, nil
}

// EnvVars returns environ (as returned by os.Environ) as a map.
func EnvVars(environ []string) map[string]string {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}
