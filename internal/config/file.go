package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the decoded form of autotest.yaml. Durations are kept as strings
// until Resolve.
type File struct {
	Vars      map[string]string `yaml:"vars,omitempty"`
	Command   string            `yaml:"command"`
	Prompt    string            `yaml:"prompt,omitempty"`
	Input     string            `yaml:"input,omitempty"`
	OutputDir string            `yaml:"output_dir,omitempty"`
	Grace     string            `yaml:"grace,omitempty"`
	Modes     map[string]Mode   `yaml:"modes,omitempty"`

	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-"`
}

// Mode tunes a run mode.
type Mode struct {
	Iterations        int    `yaml:"iterations,omitempty"`
	Timeout           string `yaml:"timeout,omitempty"`
	ContinueOnFailure bool   `yaml:"continue_on_failure,omitempty"`

	// Command replaces the file's command for this mode.
	Command string `yaml:"command,omitempty"`
}

// Load reads, decodes and validates the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse decodes and validates a configuration document. Unknown keys are
// rejected.
func Parse(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(data); err != nil {
		return nil, err
	}
	return &f, nil
}

// Overrides are values given on the command line. Zero values leave the
// file's settings alone.
type Overrides struct {
	Command    string
	Prompt     string
	Input      string
	OutputDir  string
	Timeout    time.Duration
	Iterations int
	Continue   bool

	// Env holds variables with the lowest precedence, typically the
	// process environment.
	Env map[string]string

	// Vars holds variables that take precedence over the file's vars.
	Vars map[string]string
}

// Resolve builds the RunConfig for mode. Variables are expanded in the
// command and the output directory; prompt and input are used verbatim.
func (f *File) Resolve(mode string, ov Overrides) (RunConfig, error) {
	if mode != ModeTest && mode != ModeStress {
		return RunConfig{}, fmt.Errorf("unknown mode %q", mode)
	}
	m := f.Modes[mode]

	cfg := RunConfig{
		Mode:              mode,
		Prompt:            firstNonEmpty(ov.Prompt, f.Prompt),
		Input:             firstNonEmpty(ov.Input, f.Input),
		Iterations:        1,
		ContinueOnFailure: mode == ModeStress && (m.ContinueOnFailure || ov.Continue),
	}

	if mode == ModeStress {
		cfg.Iterations = DefaultStressIterations
		if m.Iterations > 0 {
			cfg.Iterations = m.Iterations
		}
		if ov.Iterations > 0 {
			cfg.Iterations = ov.Iterations
		}
	} else if ov.Iterations > 1 {
		return RunConfig{}, fmt.Errorf("test mode runs exactly one iteration; use stress for %d", ov.Iterations)
	}

	var err error
	switch {
	case ov.Timeout != 0:
		cfg.Timeout = ov.Timeout
	case m.Timeout != "":
		if cfg.Timeout, err = time.ParseDuration(m.Timeout); err != nil {
			return RunConfig{}, fmt.Errorf("modes.%s.timeout: %w", mode, err)
		}
	default:
		// Every iteration gets the time of a single test run.
		cfg.Timeout = DefaultTimeout * time.Duration(cfg.Iterations)
	}

	cfg.Grace = DefaultGrace
	if f.Grace != "" {
		if cfg.Grace, err = time.ParseDuration(f.Grace); err != nil {
			return RunConfig{}, fmt.Errorf("grace: %w", err)
		}
	}

	vars := make(map[string]string, len(ov.Env)+len(f.Vars)+len(ov.Vars))
	maps.Copy(vars, ov.Env)
	maps.Copy(vars, f.Vars)
	maps.Copy(vars, ov.Vars)

	command := firstNonEmpty(ov.Command, m.Command, f.Command)
	if cfg.Command, err = Expand(command, vars); err != nil {
		return RunConfig{}, fmt.Errorf("command: %w", err)
	}

	outputDir := firstNonEmpty(ov.OutputDir, f.OutputDir, DefaultOutputDir)
	if cfg.OutputDir, err = Expand(outputDir, vars); err != nil {
		return RunConfig{}, fmt.Errorf("output_dir: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// ModeNames returns the names of the modes configured in the file, sorted.
func (f *File) ModeNames() []string {
	names := make([]string, 0, len(f.Modes))
	for name := range f.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
