package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/autotest/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Vars []string
}

// ResolvedMode is a run configuration as printed by validate.
type ResolvedMode struct {
	Mode              string `json:"mode"`
	Command           string `json:"command"`
	Prompt            string `json:"prompt,omitempty"`
	Input             string `json:"input,omitempty"`
	Iterations        int    `json:"iterations"`
	Timeout           string `json:"timeout"`
	ContinueOnFailure bool   `json:"continue_on_failure"`
	OutputDir         string `json:"output_dir"`
	Grace             string `json:"grace"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Path   string         `json:"path"`
	Modes  []ResolvedMode `json:"modes,omitempty"`
	Errors []config.Issue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate autotest.yaml against its schema and resolve both run modes.

Variables are expanded the same way run and stress expand them, so an
undefined variable is reported here instead of at the start of a run.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - Command error (file not found, etc.)`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "set a config variable (KEY=VALUE, repeatable)")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	vars, err := parseVars(opts.Vars)
	if err != nil {
		return outputValidateError(formatter, ErrCodeGeneric, err.Error())
	}

	if _, err := os.Stat(opts.Config); errors.Is(err, fs.ErrNotExist) {
		return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", opts.Config))
	}

	result := ValidationResult{Path: opts.Config}

	file, err := config.Load(opts.Config)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			result.Errors = verr.Issues
		} else {
			result.Errors = []config.Issue{{Message: err.Error()}}
		}
		return outputValidationErrors(formatter, result)
	}
	formatter.VerboseLog("Loaded %s (modes: %v)", opts.Config, file.ModeNames())

	env := config.EnvVars(os.Environ())
	for _, mode := range []string{config.ModeTest, config.ModeStress} {
		rc, err := file.Resolve(mode, config.Overrides{Env: env, Vars: vars})
		if err != nil {
			result.Errors = append(result.Errors, config.Issue{Field: "modes." + mode, Message: err.Error()})
			continue
		}
		result.Modes = append(result.Modes, ResolvedMode{
			Mode:              rc.Mode,
			Command:           rc.Command,
			Prompt:            rc.Prompt,
			Input:             rc.Input,
			Iterations:        rc.Iterations,
			Timeout:           rc.Timeout.String(),
			ContinueOnFailure: rc.ContinueOnFailure,
			OutputDir:         rc.OutputDir,
			Grace:             rc.Grace.String(),
		})
	}

	if len(result.Errors) > 0 {
		result.Modes = nil
		return outputValidationErrors(formatter, result)
	}

	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s is valid\n", result.Path)
	for _, m := range result.Modes {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s:\n", m.Mode)
		fmt.Fprintf(w, "  command:    %s\n", m.Command)
		if m.Prompt != "" {
			fmt.Fprintf(w, "  prompt:     %q\n", m.Prompt)
		}
		if m.Input != "" {
			fmt.Fprintf(w, "  input:      %q\n", m.Input)
		}
		fmt.Fprintf(w, "  iterations: %d\n", m.Iterations)
		fmt.Fprintf(w, "  timeout:    %s\n", m.Timeout)
		if m.ContinueOnFailure {
			fmt.Fprintln(w, "  continue:   true")
		}
		fmt.Fprintf(w, "  output:     %s\n", m.OutputDir)
		fmt.Fprintf(w, "  grace:      %s\n", m.Grace)
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Validation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs the issues found in the configuration.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeInvalid,
				Message: errs[0].String(),
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintf(formatter.Writer, "✗ %s is invalid\n", result.Path)
	fmt.Fprintln(formatter.Writer)

	for _, issue := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n", issue)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
