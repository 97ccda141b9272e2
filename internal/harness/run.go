package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/autotest/internal/config"
	"github.com/roach88/autotest/internal/protocol"
	"github.com/roach88/autotest/internal/report"
	"github.com/roach88/autotest/internal/store"
	"github.com/roach88/autotest/internal/supervisor"
	"github.com/roach88/autotest/internal/watchdog"
)

// Run executes one run and returns its outcome. It returns only after the
// subject's session has been stopped and the reader has exited.
//
// Cancelling ctx ends the run with StatusError and ErrInterrupted.
func (h *Harness) Run(ctx context.Context) *Outcome {
	cfg := h.cfg
	out := &Outcome{
		RunID:   h.ids.Generate(),
		Mode:    cfg.Mode,
		Target:  cfg.Iterations,
		Reports: []Report{},
		Started: h.clk.Now(),
	}
	logger := h.logger.With("run_id", out.RunID)
	h.setState(StateStarting)

	// History outlives an interrupted run.
	recordCtx := context.WithoutCancel(ctx)
	h.recordRun(recordCtx, logger, out, StateStarting)

	if err := cfg.Validate(); err != nil {
		return h.finish(recordCtx, logger, out, nil, result{
			status: StatusError,
			reason: fmt.Sprintf("invalid configuration: %v", err),
			err:    err,
		})
	}

	argv, err := config.SplitCommand(cfg.Command)
	if err != nil {
		return h.finish(recordCtx, logger, out, nil, result{
			status: StatusError,
			reason: fmt.Sprintf("invalid command: %v", err),
			err:    err,
		})
	}

	logger.Info("starting subject",
		"mode", cfg.Mode,
		"command", cfg.Command,
		"iterations", cfg.Iterations,
		"timeout", cfg.Timeout,
		"output_dir", cfg.OutputDir,
	)
	proc, err := h.spawn(argv, supervisor.Options{
		Echo:   h.echo,
		Clock:  h.clk,
		Logger: logger,
	})
	if err != nil {
		return h.finish(recordCtx, logger, out, nil, result{
			status: StatusError,
			reason: err.Error(),
			err:    err,
		})
	}

	slot := make(chan result, 1)
	offer := func(r result) bool {
		select {
		case slot <- r:
			return true
		default:
			return false
		}
	}

	wd := watchdog.New(h.clk, cfg.Grace, watchdog.WithLogger(logger))
	st := &runState{writer: report.NewWriter(cfg.OutputDir)}
	cancelWatchdog := wd.Start(proc, cfg.Timeout, func() {
		terr := &TimeoutError{Timeout: cfg.Timeout}
		if offer(result{status: StatusTimeout, reason: terr.Error(), err: terr}) {
			logger.Warn("run timed out", "timeout", cfg.Timeout)
		}
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		r := h.read(recordCtx, logger, proc, out.RunID, st)
		if !offer(r) {
			logger.Debug("reader result dropped", "status", r.status, "reason", r.reason)
		}
	}()

	var r result
	select {
	case r = <-slot:
	case <-ctx.Done():
		offer(result{status: StatusError, reason: ErrInterrupted.Error(), err: ErrInterrupted})
		r = <-slot
	}

	cancelWatchdog()
	if err := proc.Stop(cfg.Grace); err != nil {
		logger.Error("failed to stop subject", "error", err)
	}
	if err := proc.Close(); err != nil {
		logger.Debug("closing subject output", "error", err)
	}
	<-readerDone

	if te, ok := r.err.(*TimeoutError); ok {
		te.Iterations = st.iterations
	}
	return h.finish(recordCtx, logger, out, st, r)
}

// read drives the subject from prompt to terminal signal.
func (h *Harness) read(ctx context.Context, logger *slog.Logger, proc Subject, runID string, st *runState) result {
	cfg := h.cfg

	if cfg.Prompt != "" {
		h.setState(StatePromptWait)
		logger.Info("waiting for prompt", "prompt", cfg.Prompt)
	}
	if err := proc.InjectAfterPrompt(cfg.Prompt, cfg.Input); err != nil {
		return result{status: StatusError, reason: err.Error(), err: err}
	}
	h.setState(StateRunning)

	var opts []protocol.Option
	if cfg.ContinueOnFailure {
		opts = append(opts, protocol.WithContinueOnFailure())
	}
	parser := protocol.NewParser(cfg.Iterations, opts...)

	for {
		line, ok := proc.ReadLine()
		if !ok {
			err := parser.EOF()
			return result{status: StatusError, reason: err.Error(), err: err}
		}

		step, err := parser.Feed(line)
		if err != nil {
			return result{status: StatusError, reason: err.Error(), err: err}
		}

		switch step.Marker.Kind {
		case protocol.KindStart:
			logger.Debug("test started", "test", step.Marker.Name, "iteration", parser.Iterations()+1)
		case protocol.KindCompleted:
			st.iterations = parser.Iterations()
			if !step.Marker.Status.Passed() && st.failedAt == 0 {
				st.failedAt = st.iterations
			}
			logger.Info("iteration completed",
				"iteration", st.iterations,
				"target", parser.Target(),
				"status", step.Marker.Status,
				"detail", step.Marker.Detail,
			)
		}
		if step.Discarded != "" {
			logger.Warn("discarding unfinished test", "test", step.Discarded)
		}
		if step.Unmatched {
			logger.Warn("finish marker without matching start", "test", step.Marker.Name)
		}
		if step.Record != nil {
			h.handleRecord(ctx, logger, runID, st, step.Record)
		}

		switch step.Signal {
		case protocol.SignalSuccess:
			return result{status: StatusSuccess, reason: "all tests passed"}
		case protocol.SignalFailure:
			return result{status: StatusFailure, reason: failureReason(st)}
		}
	}
}

func (h *Harness) handleRecord(ctx context.Context, logger *slog.Logger, runID string, st *runState, rec *protocol.Record) {
	st.tests++
	if !rec.Passed() {
		st.failed++
	}
	if rec.Malformed {
		logger.Warn("malformed test report", "test", rec.Name, "iteration", rec.Iteration,
			"status", rec.Status, "reason", rec.MalformedReason)
	}

	path, err := st.writer.Write(rec.Name, rec.Iteration, rec.Body)
	if err != nil {
		st.writeErrors++
		logger.Error("failed to write test report", "test", rec.Name, "iteration", rec.Iteration, "error", err)
	}

	st.reports = append(st.reports, Report{
		Name:      rec.Name,
		Iteration: rec.Iteration,
		Status:    rec.Status,
		Malformed: rec.Malformed,
		Path:      path,
	})
	logger.Info("test finished", "test", rec.Name, "iteration", rec.Iteration, "status", rec.Status, "report", path)

	if h.recorder != nil {
		err := h.recorder.RecordTest(ctx, store.TestRow{
			RunID:      runID,
			Seq:        st.tests,
			Name:       rec.Name,
			Iteration:  rec.Iteration,
			Status:     string(rec.Status),
			Malformed:  rec.Malformed,
			ReportPath: path,
		})
		if err != nil {
			logger.Warn("failed to record test", "test", rec.Name, "error", err)
		}
	}
}

func failureReason(st *runState) string {
	if st.failed > 0 {
		return fmt.Sprintf("%d of %d test(s) failed", st.failed, st.tests)
	}
	if st.failedAt > 0 {
		return fmt.Sprintf("iteration %d reported failure", st.failedAt)
	}
	return "run failed"
}

// finish fills in the outcome, records it and moves to the terminal state.
// st is nil if the subject never started.
func (h *Harness) finish(ctx context.Context, logger *slog.Logger, out *Outcome, st *runState, r result) *Outcome {
	out.Status = r.status
	out.Reason = r.reason
	out.Err = r.err
	if st != nil {
		out.Iterations = st.iterations
		out.Tests = st.tests
		out.Failed = st.failed
		out.WriteErrors = st.writeErrors
		out.Reports = st.reports
		if out.Reports == nil {
			out.Reports = []Report{}
		}
	}
	out.Finished = h.clk.Now()

	h.setState(r.status.state())
	h.recordRun(ctx, logger, out, r.status.state())

	attrs := []any{
		"status", out.Status,
		"reason", out.Reason,
		"iterations", out.Iterations,
		"target", out.Target,
		"tests", out.Tests,
		"failed", out.Failed,
		"duration", out.Duration(),
	}
	if out.WriteErrors > 0 {
		attrs = append(attrs, "write_errors", out.WriteErrors)
	}
	if out.Status == StatusSuccess {
		logger.Info("run finished", attrs...)
	} else {
		logger.Warn("run finished", attrs...)
	}
	return out
}

func (h *Harness) recordRun(ctx context.Context, logger *slog.Logger, out *Outcome, state State) {
	if h.recorder == nil {
		return
	}
	row := store.RunRow{
		ID:         out.RunID,
		Mode:       out.Mode,
		Command:    h.cfg.Command,
		Status:     string(state),
		Reason:     out.Reason,
		Iterations: out.Iterations,
		Target:     out.Target,
		Tests:      out.Tests,
		Failed:     out.Failed,
		OutputDir:  h.cfg.OutputDir,
		StartedAt:  out.Started,
	}
	if state.Terminal() {
		row.FinishedAt = out.Finished
	}
	if err := h.recorder.RecordRun(ctx, row); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}
