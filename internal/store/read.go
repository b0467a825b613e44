package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/checkonaut/internal/results"
)

const runColumns = `id, command, args, version, started_at, duration_ns, errors, warnings, passed, failed, exec_errors`

// ListRuns returns the newest runs first, without their child rows.
// A non-positive limit returns every run.
//
// Returns an empty slice (not nil) if the archive is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
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

// ReadRun retrieves a run with its issues, outcomes and errors.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, err
	}

	if run.Issues, err = s.readIssues(ctx, id); err != nil {
		return Run{}, err
	}
	if run.Outcomes, err = s.readOutcomes(ctx, id); err != nil {
		return Run{}, err
	}
	if run.Errors, err = s.readErrors(ctx, id); err != nil {
		return Run{}, err
	}
	return run, nil
}

// RunsWithIssue returns the IDs of runs that reported the issue with the
// given fingerprint, newest first.
func (s *Store) RunsWithIssue(ctx context.Context, fingerprint string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT r.id, r.started_at
		FROM issues i
		JOIN runs r ON r.id = i.run_id
		WHERE i.fingerprint = ?
		ORDER BY r.started_at DESC, r.id COLLATE BINARY DESC
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("query runs with issue: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		var startedAt int64
		if err := rows.Scan(&id, &startedAt); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs with issue: %w", err)
	}
	return ids, nil
}

func (s *Store) readIssues(ctx context.Context, runID string) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document, check_file, object_index, message, severity, fingerprint
		FROM issues
		WHERE run_id = ?
		ORDER BY ord ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var issue Issue
		var severity string
		if err := rows.Scan(&issue.Document, &issue.Check, &issue.Index, &issue.Message, &severity, &issue.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		if issue.Severity, err = results.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}

func (s *Store) readOutcomes(ctx context.Context, runID string) ([]results.TestOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file, name, passed, message
		FROM outcomes
		WHERE run_id = ?
		ORDER BY ord ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []results.TestOutcome
	for rows.Next() {
		var o results.TestOutcome
		var passed int
		if err := rows.Scan(&o.File, &o.Name, &passed, &o.Message); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Passed = passed != 0
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

func (s *Store) readErrors(ctx context.Context, runID string) ([]results.ExecError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, file, document, object_index, test, message
		FROM exec_errors
		WHERE run_id = ?
		ORDER BY ord ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query exec errors: %w", err)
	}
	defer rows.Close()

	var errs []results.ExecError
	for rows.Next() {
		var e results.ExecError
		var kind string
		if err := rows.Scan(&kind, &e.File, &e.Document, &e.Index, &e.Test, &e.Message); err != nil {
			return nil, fmt.Errorf("scan exec error: %w", err)
		}
		e.Kind = results.ExecErrorKind(kind)
		errs = append(errs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exec errors: %w", err)
	}
	return errs, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var argsJSON string
	var startedAt, duration int64

	if err := row.Scan(
		&run.ID, &run.Command, &argsJSON, &run.Version, &startedAt, &duration,
		&run.Summary.Errors, &run.Summary.Warnings, &run.Summary.Passed,
		&run.Summary.Failed, &run.Summary.ExecErrors,
	); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	args, err := unmarshalArgs(argsJSON)
	if err != nil {
		return Run{}, fmt.Errorf("scan run %s: %w", run.ID, err)
	}
	run.Args = args
	run.StartedAt = time.Unix(0, startedAt).UTC()
	run.Duration = time.Duration(duration)
	return run, nil
}
