package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "pingup/internal/errors"
	"pingup/internal/models"
)

// ErrLeaseLost is returned when a run's state is changed by an executor
// that no longer holds its lease.
var ErrLeaseLost = errors.New("workflow run lease lost")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var dedupeKey sql.NullString
	var payload string
	var output sql.NullString
	var resumeAt, lockedUntil sql.NullTime

	if err := row.Scan(
		&run.ID,
		&run.WorkflowType,
		&dedupeKey,
		&run.Status,
		&payload,
		&output,
		&run.Error,
		&resumeAt,
		&lockedUntil,
		&run.Attempts,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}

	run.DedupeKey = dedupeKey.String
	run.Payload = json.RawMessage(payload)
	if output.Valid {
		run.Output = json.RawMessage(output.String)
	}
	if resumeAt.Valid {
		t := resumeAt.Time
		run.ResumeAt = &t
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		run.LockedUntil = &t
	}
	return &run, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateRun inserts a run in the created state. When a run with the same
// dedupe key already exists, that run is returned with created=false.
func (d *Database) CreateRun(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, bool, error) {
	now := d.utcNow()
	if len(run.Payload) == 0 {
		run.Payload = json.RawMessage("null")
	}

	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		result, err := d.db.ExecContext(ctx, InsertRunQuery,
			run.ID,
			run.WorkflowType,
			nullIfEmpty(run.DedupeKey),
			string(run.Payload),
			now,
			now,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	}, "create workflow run")
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("create workflow run", err)
	}

	if affected == 0 && run.DedupeKey != "" {
		existing, err := scanRun(d.db.QueryRowContext(ctx, SelectRunByDedupeKeyQuery, run.DedupeKey))
		if err != nil {
			return nil, false, apperrors.NewDatabaseError("load deduplicated workflow run", err)
		}
		return existing, false, nil
	}

	created, err := d.GetRun(ctx, run.ID)
	if err != nil {
		return nil, false, err
	}
	if created == nil {
		return nil, false, fmt.Errorf("workflow run %s missing after insert", run.ID)
	}
	return created, true, nil
}

// GetRun returns the run without its steps, or nil if it does not exist.
func (d *Database) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := scanRun(d.db.QueryRowContext(ctx, SelectRunQuery, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get workflow run", err)
	}
	return run, nil
}

// ClaimDueRuns leases up to limit due runs to owner and returns them in the
// running state.
func (d *Database) ClaimDueRuns(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]*models.WorkflowRun, error) {
	now = now.UTC()

	rows, err := d.db.QueryContext(ctx, SelectDueRunIDsQuery, now, now, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select due workflow runs", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperrors.NewDatabaseError("scan due workflow run", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate due workflow runs", err)
	}

	var claimed []*models.WorkflowRun
	for _, id := range ids {
		run, err := d.ClaimRun(ctx, id, owner, now, lease)
		if err != nil {
			return claimed, err
		}
		if run != nil {
			claimed = append(claimed, run)
		}
	}
	return claimed, nil
}

// ClaimRun leases one run to owner if it is due and unleased. It returns
// nil when another executor holds the run or it is not due.
func (d *Database) ClaimRun(ctx context.Context, runID, owner string, now time.Time, lease time.Duration) (*models.WorkflowRun, error) {
	now = now.UTC()

	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		result, err := d.db.ExecContext(ctx, ClaimRunQuery, now.Add(lease), owner, now, runID, now, now)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	}, "claim workflow run")
	if err != nil {
		return nil, apperrors.NewDatabaseError("claim workflow run", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return d.GetRun(ctx, runID)
}

// ExtendLease pushes the lease of a running run forward.
func (d *Database) ExtendLease(ctx context.Context, runID, owner string, until time.Time) error {
	return d.ownedRunUpdate(ctx, "extend workflow lease", ExtendLeaseQuery, until.UTC(), runID, owner)
}

// SuspendRun parks the run until resumeAt and releases its lease.
func (d *Database) SuspendRun(ctx context.Context, runID, owner string, resumeAt time.Time) error {
	return d.ownedRunUpdate(ctx, "suspend workflow run", SuspendRunQuery, resumeAt.UTC(), d.utcNow(), runID, owner)
}

// CompleteRun records the run's output and marks it completed.
func (d *Database) CompleteRun(ctx context.Context, runID, owner string, output json.RawMessage) error {
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	return d.ownedRunUpdate(ctx, "complete workflow run", CompleteRunQuery, string(output), d.utcNow(), runID, owner)
}

// FailRun marks the run failed with reason.
func (d *Database) FailRun(ctx context.Context, runID, owner, reason string) error {
	return d.ownedRunUpdate(ctx, "fail workflow run", FailRunQuery, reason, d.utcNow(), runID, owner)
}

// ReleaseRun drops owner's lease so the scheduling loop picks the run up again.
func (d *Database) ReleaseRun(ctx context.Context, runID, owner string) error {
	return d.ownedRunUpdate(ctx, "release workflow run", ReleaseRunQuery, d.utcNow(), runID, owner)
}

func (d *Database) ownedRunUpdate(ctx context.Context, operation, query string, args ...any) error {
	var affected int64
	err := retryableDBOperationNoReturn(ctx, func() error {
		result, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	}, operation)
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// SaveStep records a completed step. If a record already exists it is left
// untouched and the stored record is returned instead.
func (d *Database) SaveStep(ctx context.Context, step *models.StepRecord) (*models.StepRecord, error) {
	completedAt := step.CompletedAt
	if completedAt.IsZero() {
		completedAt = d.utcNow()
	}

	err := retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertStepQuery,
			step.RunID,
			step.Name,
			string(step.Output),
			step.Attempts,
			completedAt.UTC(),
		)
		return err
	}, "save workflow step")
	if err != nil {
		return nil, apperrors.NewDatabaseError("save workflow step", err)
	}

	stored, err := d.GetStep(ctx, step.RunID, step.Name)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("workflow step %s/%s missing after insert", step.RunID, step.Name)
	}
	return stored, nil
}

// GetStep returns the step record, or nil if the step has not completed.
func (d *Database) GetStep(ctx context.Context, runID, name string) (*models.StepRecord, error) {
	step, err := scanStep(d.db.QueryRowContext(ctx, SelectStepQuery, runID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get workflow step", err)
	}
	return step, nil
}

// GetSteps returns the run's step records in completion order.
func (d *Database) GetSteps(ctx context.Context, runID string) ([]*models.StepRecord, error) {
	rows, err := d.db.QueryContext(ctx, SelectStepsQuery, runID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list workflow steps", err)
	}
	defer rows.Close()

	steps := make([]*models.StepRecord, 0)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan workflow step", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate workflow steps", err)
	}
	return steps, nil
}

func scanStep(row rowScanner) (*models.StepRecord, error) {
	var step models.StepRecord
	var output string
	if err := row.Scan(&step.RunID, &step.Name, &output, &step.Attempts, &step.CompletedAt); err != nil {
		return nil, err
	}
	step.Output = json.RawMessage(output)
	return &step, nil
}

// CountRunsByStatus returns the number of runs in each state.
func (d *Database) CountRunsByStatus(ctx context.Context) (map[models.RunStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, CountRunsByStatusQuery)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count workflow runs", err)
	}
	defer rows.Close()

	counts := make(map[models.RunStatus]int)
	for rows.Next() {
		var status models.RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.NewDatabaseError("scan workflow run count", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate workflow run counts", err)
	}
	return counts, nil
}

// PurgeFinishedRuns deletes completed and failed runs, with their steps,
// last updated before the cutoff.
func (d *Database) PurgeFinishedRuns(ctx context.Context, before time.Time) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewDatabaseError("begin purge", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := before.UTC()
	if _, err := tx.ExecContext(ctx, DeleteStepsOfFinishedRunsQuery, cutoff); err != nil {
		return 0, apperrors.NewDatabaseError("purge workflow steps", err)
	}
	result, err := tx.ExecContext(ctx, DeleteFinishedRunsQuery, cutoff)
	if err != nil {
		return 0, apperrors.NewDatabaseError("purge workflow runs", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("purge workflow runs", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewDatabaseError("commit purge", err)
	}
	return deleted, nil
}
