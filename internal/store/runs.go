package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is RFC 3339 with a fixed-width fraction, so stored timestamps
// sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned by ReadRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunRow is the history entry of one run.
type RunRow struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Command    string    `json:"command"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Iterations int       `json:"iterations"`
	Target     int       `json:"target"`
	Tests      int       `json:"tests"`
	Failed     int       `json:"failed"`
	OutputDir  string    `json:"output_dir"`
	StartedAt  time.Time `json:"started_at"`

	// FinishedAt is zero while the run is in progress.
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// TestRow is the history entry of one test record.
type TestRow struct {
	RunID      string `json:"run_id"`
	Seq        int    `json:"seq"`
	Name       string `json:"name"`
	Iteration  int    `json:"iteration"`
	Status     string `json:"status"`
	Malformed  bool   `json:"malformed,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
}

// RecordRun inserts a run or updates the existing row with the same ID.
func (s *Store) RecordRun(ctx context.Context, run RunRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, mode, command, status, reason, iterations, target, tests, failed, output_dir, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			iterations = excluded.iterations,
			tests = excluded.tests,
			failed = excluded.failed,
			finished_at = excluded.finished_at
	`,
		run.ID,
		run.Mode,
		run.Command,
		run.Status,
		run.Reason,
		run.Iterations,
		run.Target,
		run.Tests,
		run.Failed,
		run.OutputDir,
		formatTime(run.StartedAt),
		nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordTest inserts a test record. The run must already exist. Writing the
// same (run, seq) twice is a no-op.
func (s *Store) RecordTest(ctx context.Context, test TestRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tests
		(run_id, seq, name, iteration, status, malformed, report_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		test.RunID,
		test.Seq,
		test.Name,
		test.Iteration,
		test.Status,
		test.Malformed,
		test.ReportPath,
	)
	if err != nil {
		return fmt.Errorf("record test: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recent first. A limit of zero or
// less returns all runs. Returns an empty slice (not nil) if there are none.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, command, status, reason, iterations, target, tests, failed, output_dir, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRow{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run and its tests in stream order. It returns
// ErrRunNotFound (wrapped) for an unknown ID.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRow, []TestRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, command, status, reason, iterations, target, tests, failed, output_dir, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRow{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return RunRow{}, nil, err
	}

	tests, err := s.queryTests(ctx, `
		SELECT run_id, seq, name, iteration, status, malformed, report_path
		FROM tests
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return RunRow{}, nil, err
	}
	return run, tests, nil
}

// TestHistory returns the records of the named test across all runs, most
// recent run first. Returns an empty slice (not nil) if there are none.
func (s *Store) TestHistory(ctx context.Context, name string, limit int) ([]TestRow, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryTests(ctx, `
		SELECT t.run_id, t.seq, t.name, t.iteration, t.status, t.malformed, t.report_path
		FROM tests t
		JOIN runs r ON r.id = t.run_id
		WHERE t.name = ?
		ORDER BY r.started_at DESC, t.run_id COLLATE BINARY DESC, t.iteration DESC
		LIMIT ?
	`, name, limit)
}

func (s *Store) queryTests(ctx context.Context, query string, args ...any) ([]TestRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	tests := []TestRow{}
	for rows.Next() {
		var t TestRow
		if err := rows.Scan(&t.RunID, &t.Seq, &t.Name, &t.Iteration, &t.Status, &t.Malformed, &t.ReportPath); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		tests = append(tests, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	return tests, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRow, error) {
	var (
		run      RunRow
		started  string
		finished sql.NullString
	)
	err := sc.Scan(&run.ID, &run.Mode, &run.Command, &run.Status, &run.Reason,
		&run.Iterations, &run.Target, &run.Tests, &run.Failed, &run.OutputDir,
		&started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRow{}, err
	}
	if err != nil {
		return RunRow{}, fmt.Errorf("scan run: %w", err)
	}

	if run.StartedAt, err = parseTime(started); err != nil {
		return RunRow{}, err
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return RunRow{}, err
		}
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
