package workflow

import (
	"context"
	"encoding/json"
	"time"

	"pingup/internal/models"
)

// Store is the durable state behind the engine. *database.Database
// implements it.
type Store interface {
	CreateRun(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, bool, error)
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	ClaimDueRuns(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]*models.WorkflowRun, error)
	ClaimRun(ctx context.Context, runID, owner string, now time.Time, lease time.Duration) (*models.WorkflowRun, error)
	ExtendLease(ctx context.Context, runID, owner string, until time.Time) error
	SuspendRun(ctx context.Context, runID, owner string, resumeAt time.Time) error
	CompleteRun(ctx context.Context, runID, owner string, output json.RawMessage) error
	FailRun(ctx context.Context, runID, owner, reason string) error
	ReleaseRun(ctx context.Context, runID, owner string) error
	SaveStep(ctx context.Context, step *models.StepRecord) (*models.StepRecord, error)
	GetStep(ctx context.Context, runID, name string) (*models.StepRecord, error)
	GetSteps(ctx context.Context, runID string) ([]*models.StepRecord, error)
}
