package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autotest/internal/config"
	"github.com/roach88/autotest/internal/harness"
	"github.com/roach88/autotest/internal/store"
)

// RunOptions holds flags for the run and stress commands.
type RunOptions struct {
	*RootOptions
	Command    string
	Prompt     string
	Input      string
	Timeout    time.Duration
	OutputDir  string
	Vars       []string
	Iterations int
	Continue   bool

	// IDGenerator allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator harness.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the test suite once",
		Long: `Start the emulator, wait for the login prompt, send the input and run
exactly one iteration of the test suite.

Every test produces <output>/<test>.1.xml. The run succeeds when the
iteration completes and no test failed.

Examples:
  autotest run
  autotest run --var QEMU=qemu-system-x86_64 --timeout 5m
  autotest run --command "./emulator -serial stdio" --input 'root\n/test/run /test -m\n'`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarness(opts, config.ModeTest, cmd)
		},
	}

	addRunFlags(cmd, opts)
	return cmd
}

// NewStressCommand creates the stress command.
func NewStressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run the test suite in a loop",
		Long: `Start the emulator once and keep running the test suite until the target
number of iterations has completed.

The subject must loop over its suite by itself, printing a Completed
marker after each pass. Reports are kept per iteration as
<output>/<test>.<iteration>.xml.

By default the first failed iteration ends the run. With --continue the
run goes on to the target and fails at the end.

Examples:
  autotest stress --iterations 50
  autotest stress -n 200 --continue --timeout 2h`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarness(opts, config.ModeStress, cmd)
		},
	}

	addRunFlags(cmd, opts)
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 0, fmt.Sprintf("iterations to complete (default from config, else %d)", config.DefaultStressIterations))
	cmd.Flags().BoolVar(&opts.Continue, "continue", false, "keep going after a failed iteration")

	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *RunOptions) {
	cmd.Flags().StringVar(&opts.Command, "command", "", "emulator command line (overrides the config file)")
	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "text to wait for before sending input")
	cmd.Flags().StringVar(&opts.Input, "input", "", `text sent after the prompt; \n, \r, \t and \\ are unescaped`)
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "limit for the whole run (default from config)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "report directory (default from config)")
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "set a config variable (KEY=VALUE, repeatable)")
}

func runHarness(opts *RunOptions, mode string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(formatter.GetErrWriter(), opts.Verbose)

	rc, err := resolveRunConfig(opts, mode, cmd)
	if err != nil {
		return outputCommandError(formatter, ErrCodeConfig, err)
	}

	// JSON output owns stdout; the subject's console goes to stderr.
	echo := formatter.Writer
	if opts.Format == "json" {
		echo = formatter.GetErrWriter()
	}

	hopts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithEcho(echo),
	}
	if opts.IDGenerator != nil {
		hopts = append(hopts, harness.WithIDGenerator(opts.IDGenerator))
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return outputCommandError(formatter, ErrCodeDatabase, fmt.Errorf("failed to open history database: %w", err))
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing history database", "error", closeErr)
			}
		}()
		hopts = append(hopts, harness.WithRecorder(st))
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := harness.New(rc, hopts...).Run(ctx)
	return outputOutcome(formatter, out)
}

// resolveRunConfig loads the config file and applies the command's flags.
// A missing default config file is not an error when the command is given
// on the command line.
func resolveRunConfig(opts *RunOptions, mode string, cmd *cobra.Command) (config.RunConfig, error) {
	file, err := config.Load(opts.Config)
	if err != nil {
		explicit := cmd.Flags().Changed("config")
		if explicit || !errors.Is(err, fs.ErrNotExist) || opts.Command == "" {
			return config.RunConfig{}, err
		}
		file = &config.File{}
	}

	vars, err := parseVars(opts.Vars)
	if err != nil {
		return config.RunConfig{}, err
	}

	return file.Resolve(mode, config.Overrides{
		Command:    opts.Command,
		Prompt:     opts.Prompt,
		Input:      unescapeInput(opts.Input),
		OutputDir:  opts.OutputDir,
		Timeout:    opts.Timeout,
		Iterations: opts.Iterations,
		Continue:   opts.Continue,
		Env:        config.EnvVars(os.Environ()),
		Vars:       vars,
	})
}

// parseVars parses repeated KEY=VALUE flags.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected KEY=VALUE", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

var inputEscapes = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r", `\t`, "\t")

func unescapeInput(s string) string {
	return inputEscapes.Replace(s)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// outputOutcome prints the run's verdict and maps it to an exit code.
func outputOutcome(formatter *OutputFormatter, out *harness.Outcome) error {
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: out, RunID: out.RunID}
		if out.Status != harness.StatusSuccess {
			resp.Status = "error"
			resp.Error = &CLIError{Code: outcomeErrorCode(out.Status), Message: out.Summary()}
		}
		if err := writeJSON(formatter.Writer, resp); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "autotest: %s\n", out.Summary())
		if out.WriteErrors > 0 {
			fmt.Fprintf(formatter.Writer, "autotest: %d report(s) could not be written\n", out.WriteErrors)
		}
	}

	if out.Status == harness.StatusSuccess {
		return nil
	}
	return WrapExitError(out.ExitCode(), fmt.Sprintf("run %s", strings.ToLower(string(out.Status))), out.Err)
}

func outcomeErrorCode(s harness.Status) string {
	switch s {
	case harness.StatusFailure:
		return ErrCodeRunFailed
	case harness.StatusTimeout:
		return ErrCodeRunTimeout
	default:
		return ErrCodeRunError
	}
}

// outputCommandError reports an error that prevented the run from starting.
func outputCommandError(formatter *OutputFormatter, code string, err error) error {
	if formatter.Format == "json" {
		_ = formatter.Error(code, err.Error(), nil)
	}
	return WrapExitError(ExitCommandError, "cannot start run", err)
}
