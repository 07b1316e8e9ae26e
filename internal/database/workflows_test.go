package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pingup/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRun(t *testing.T, db *Database, dedupeKey string) *models.WorkflowRun {
	t.Helper()
	run, created, err := db.CreateRun(context.Background(), &models.WorkflowRun{
		ID:           uuid.NewString(),
		WorkflowType: "test",
		DedupeKey:    dedupeKey,
		Payload:      json.RawMessage(`{"connection_id":"c1"}`),
	})
	require.NoError(t, err)
	require.True(t, created)
	return run
}

func TestCreateRun(t *testing.T) {
	db := setupTestDB(t)

	run := createTestRun(t, db, "")
	assert.Equal(t, models.RunCreated, run.Status)
	assert.JSONEq(t, `{"connection_id":"c1"}`, string(run.Payload))
	assert.Nil(t, run.ResumeAt)
	assert.Empty(t, run.DedupeKey)

	missing, err := db.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateRun_Dedupe(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := createTestRun(t, db, "connection-request:c1")

	second, created, err := db.CreateRun(ctx, &models.WorkflowRun{
		ID:           uuid.NewString(),
		WorkflowType: "test",
		DedupeKey:    "connection-request:c1",
		Payload:      json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// runs without a key never collide
	createTestRun(t, db, "")
	createTestRun(t, db, "")
}

func TestClaimRun_Lease(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := createTestRun(t, db, "")

	claimed, err := db.ClaimRun(ctx, run.ID, "a", now, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, models.RunRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	// held by a
	other, err := db.ClaimRun(ctx, run.ID, "b", now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)

	// lease expired: crash recovery
	other, err = db.ClaimRun(ctx, run.ID, "b", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, 2, other.Attempts)

	// a's late writes are rejected
	assert.ErrorIs(t, db.CompleteRun(ctx, run.ID, "a", json.RawMessage(`{}`)), ErrLeaseLost)
	assert.NoError(t, db.CompleteRun(ctx, run.ID, "b", json.RawMessage(`{"ok":true}`)))

	done, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, done.Status)
	assert.JSONEq(t, `{"ok":true}`, string(done.Output))
	assert.Nil(t, done.LockedUntil)
}

func TestClaimDueRuns_SuspendedWakeTime(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := createTestRun(t, db, "")
	_, err := db.ClaimRun(ctx, run.ID, "a", now, time.Minute)
	require.NoError(t, err)

	wake := now.Add(24 * time.Hour)
	require.NoError(t, db.SuspendRun(ctx, run.ID, "a", wake))

	suspended, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuspended, suspended.Status)
	require.NotNil(t, suspended.ResumeAt)
	assert.WithinDuration(t, wake, *suspended.ResumeAt, time.Millisecond)

	due, err := db.ClaimDueRuns(ctx, "a", now.Add(23*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.ClaimDueRuns(ctx, "a", wake.Add(time.Millisecond), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, run.ID, due[0].ID)
	assert.Equal(t, models.RunRunning, due[0].Status)
}

func TestClaimDueRuns_CreatedAndReleased(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := createTestRun(t, db, "")
	second := createTestRun(t, db, "")

	due, err := db.ClaimDueRuns(ctx, "a", now, time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)

	due, err = db.ClaimDueRuns(ctx, "a", now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, db.ReleaseRun(ctx, first.ID, "a"))
	require.NoError(t, db.FailRun(ctx, second.ID, "a", "boom"))

	due, err = db.ClaimDueRuns(ctx, "b", now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first.ID, due[0].ID)

	failed, err := db.GetRun(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}

func TestExtendLease(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := createTestRun(t, db, "")
	_, err := db.ClaimRun(ctx, run.ID, "a", now, time.Minute)
	require.NoError(t, err)

	require.NoError(t, db.ExtendLease(ctx, run.ID, "a", now.Add(10*time.Minute)))
	assert.ErrorIs(t, db.ExtendLease(ctx, run.ID, "b", now.Add(10*time.Minute)), ErrLeaseLost)

	other, err := db.ClaimRun(ctx, run.ID, "b", now.Add(5*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSaveStep_FirstWriteWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	run := createTestRun(t, db, "")

	step, err := db.GetStep(ctx, run.ID, "notify")
	require.NoError(t, err)
	assert.Nil(t, step)

	stored, err := db.SaveStep(ctx, &models.StepRecord{RunID: run.ID, Name: "notify", Output: json.RawMessage(`{"sent":1}`), Attempts: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sent":1}`, string(stored.Output))

	again, err := db.SaveStep(ctx, &models.StepRecord{RunID: run.ID, Name: "notify", Output: json.RawMessage(`{"sent":2}`), Attempts: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sent":1}`, string(again.Output))
	assert.Equal(t, 1, again.Attempts)

	_, err = db.SaveStep(ctx, &models.StepRecord{RunID: run.ID, Name: "remind", Output: json.RawMessage(`null`), Attempts: 1})
	require.NoError(t, err)

	steps, err := db.GetSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "notify", steps[0].Name)
	assert.Equal(t, "remind", steps[1].Name)
}

func TestCountRunsByStatusAndPurge(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	done := createTestRun(t, db, "")
	failed := createTestRun(t, db, "")
	waiting := createTestRun(t, db, "")

	for _, run := range []*models.WorkflowRun{done, failed, waiting} {
		_, err := db.ClaimRun(ctx, run.ID, "a", now, time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, db.CompleteRun(ctx, done.ID, "a", nil))
	require.NoError(t, db.FailRun(ctx, failed.ID, "a", "exhausted"))
	require.NoError(t, db.SuspendRun(ctx, waiting.ID, "a", now.Add(time.Hour)))
	_, err := db.SaveStep(ctx, &models.StepRecord{RunID: done.ID, Name: "notify", Output: json.RawMessage(`1`), Attempts: 1})
	require.NoError(t, err)

	counts, err := db.CountRunsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.RunCompleted])
	assert.Equal(t, 1, counts[models.RunFailed])
	assert.Equal(t, 1, counts[models.RunSuspended])

	deleted, err := db.PurgeFinishedRuns(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = db.PurgeFinishedRuns(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	steps, err := db.GetSteps(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	remaining, err := db.GetRun(ctx, waiting.ID)
	require.NoError(t, err)
	assert.NotNil(t, remaining)
}
