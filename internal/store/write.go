package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/checkonaut/internal/ir"
)

// ErrMissingRunID is returned by WriteRun when the run has no ID.
var ErrMissingRunID = errors.New("run has no id")

// WriteRun stores a run with all of its issues, outcomes and errors in one
// transaction. Issue fingerprints are computed here and written back into
// run.Issues.
//
// Writing a run whose ID already exists fails with a constraint error.
func (s *Store) WriteRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("write run: %w", ErrMissingRunID)
	}
	if run.Version == "" {
		run.Version = ir.Version
	}

	argsJSON, err := marshalArgs(run.Args)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	for i := range run.Issues {
		issue := &run.Issues[i]
		fp, err := ir.IssueFingerprint(issue.Document, issue.Check, issue.Index, issue.Message, issue.Severity.String())
		if err != nil {
			return fmt.Errorf("write run: fingerprint issue %d: %w", i, err)
		}
		issue.Fingerprint = fp
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, command, args, version, started_at, duration_ns, errors, warnings, passed, failed, exec_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Command,
		argsJSON,
		run.Version,
		run.StartedAt.UnixNano(),
		int64(run.Duration),
		run.Summary.Errors,
		run.Summary.Warnings,
		run.Summary.Passed,
		run.Summary.Failed,
		run.Summary.ExecErrors,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	for i, issue := range run.Issues {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO issues
			(run_id, ord, document, check_file, object_index, message, severity, fingerprint)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, issue.Document, issue.Check, issue.Index, issue.Message, issue.Severity.String(), issue.Fingerprint)
		if err != nil {
			return fmt.Errorf("write run: issue %d: %w", i, err)
		}
	}

	for i, o := range run.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outcomes
			(run_id, ord, file, name, passed, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, o.File, o.Name, boolToInt(o.Passed), o.Message)
		if err != nil {
			return fmt.Errorf("write run: outcome %d: %w", i, err)
		}
	}

	for i, e := range run.Errors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exec_errors
			(run_id, ord, kind, file, document, object_index, test, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, string(e.Kind), e.File, e.Document, e.Index, e.Test, e.Message)
		if err != nil {
			return fmt.Errorf("write run: error %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

// PruneRuns removes all but the newest keep runs. Child rows cascade.
// Returns the number of runs removed.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id COLLATE BINARY DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return n, nil
}
