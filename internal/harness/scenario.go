package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/autotest/internal/config"
	"github.com/roach88/autotest/internal/testutil"
)

// Scenario describes a scripted subject, the configuration it is run with
// and the outcome the run must produce. Scenarios live in YAML files under
// testdata/scenarios and pin the harness's end-to-end behavior.
type Scenario struct {
	// Name uniquely identifies this scenario. It seeds the run ID.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Config  ScenarioConfig `yaml:"config"`
	Subject SubjectSpec    `yaml:"subject"`
	Expect  Expectation    `yaml:"expect"`
}

// ScenarioConfig is the subset of a RunConfig a scenario controls.
type ScenarioConfig struct {
	// Mode is test (default) or stress.
	Mode              string `yaml:"mode,omitempty"`
	Iterations        int    `yaml:"iterations,omitempty"`
	ContinueOnFailure bool   `yaml:"continue_on_failure,omitempty"`
	Prompt            string `yaml:"prompt,omitempty"`
	Input             string `yaml:"input,omitempty"`

	// Timeout defaults to 10s; Grace to 100ms.
	Timeout string `yaml:"timeout,omitempty"`
	Grace   string `yaml:"grace,omitempty"`
}

// SubjectSpec describes the scripted subject. See testutil.Subject.
type SubjectSpec struct {
	Prompt string `yaml:"prompt,omitempty"`
	Reads  int    `yaml:"reads,omitempty"`
	Output string `yaml:"output"`
	Tail   string `yaml:"tail,omitempty"`
}

// Expectation is the outcome a scenario must produce. Unset fields are not
// checked.
type Expectation struct {
	Status     Status `yaml:"status"`
	Iterations *int   `yaml:"iterations,omitempty"`
	Tests      *int   `yaml:"tests,omitempty"`
	Failed     *int   `yaml:"failed,omitempty"`

	// Reason must be a substring of the outcome's reason.
	Reason string `yaml:"reason,omitempty"`

	// Reports lists report files, relative to the output directory, that
	// must exist. When set, no other report file may exist.
	Reports []string `yaml:"reports,omitempty"`

	// NoReports requires the output directory to hold no report at all.
	NoReports bool `yaml:"no_reports,omitempty"`

	// Fallback lists report files that must hold a fallback document.
	Fallback []string `yaml:"fallback,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "report:" vs "reports:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Subject.Output == "" && s.Subject.Tail == "" {
		return fmt.Errorf("subject needs output or tail")
	}

	switch s.Config.Mode {
	case "", config.ModeTest, config.ModeStress:
	default:
		return fmt.Errorf("unknown mode %q", s.Config.Mode)
	}

	switch s.Expect.Status {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusError:
	default:
		return fmt.Errorf("expect.status must be SUCCESS, FAILURE, TIMEOUT or ERROR, got %q", s.Expect.Status)
	}

	for _, d := range []string{s.Config.Timeout, s.Config.Grace} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}

	return nil
}

// RunConfig builds the configuration of the scenario's run. The subject
// script and the output directory are created under t's temporary
// directories.
func (s *Scenario) RunConfig(t testing.TB) config.RunConfig {
	t.Helper()

	cfg := config.RunConfig{
		Mode:              s.Config.Mode,
		Command:           testutil.Subject(s.Subject).Command(t),
		Prompt:            s.Config.Prompt,
		Input:             s.Config.Input,
		Iterations:        s.Config.Iterations,
		ContinueOnFailure: s.Config.ContinueOnFailure,
		OutputDir:         t.TempDir(),
		Timeout:           10 * time.Second,
		Grace:             100 * time.Millisecond,
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeTest
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = 1
	}
	if s.Config.Timeout != "" {
		cfg.Timeout, _ = time.ParseDuration(s.Config.Timeout)
	}
	if s.Config.Grace != "" {
		cfg.Grace, _ = time.ParseDuration(s.Config.Grace)
	}
	return cfg
}

// RunScenario runs the scenario against a scripted subject and returns the
// outcome together with the run configuration used.
func RunScenario(t testing.TB, s *Scenario, opts ...Option) (*Outcome, config.RunConfig) {
	t.Helper()

	cfg := s.RunConfig(t)
	opts = append([]Option{
		WithEcho(io.Discard),
		WithIDGenerator(testutil.NewFixedIDGenerator(s.Name)),
	}, opts...)

	return New(cfg, opts...).Run(context.Background()), cfg
}
