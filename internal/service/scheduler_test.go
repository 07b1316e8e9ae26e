package service

import (
	"context"
	"testing"
	"time"

	"pingup/internal/metrics"
	"pingup/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler(&mockRunStore{}, "", 0, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "@daily", s.schedule)
	assert.Equal(t, 30, s.retentionDays)

	_, err = NewScheduler(&mockRunStore{}, "every tuesday", 30, quietLogger())
	assert.Error(t, err)
}

func TestScheduler_NextRun(t *testing.T) {
	s, err := NewScheduler(&mockRunStore{}, "0 3 * * *", 30, quietLogger())
	require.NoError(t, err)

	next, err := s.NextRun(time.Date(2026, 5, 10, 4, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 11, 3, 0, 0, 0, time.UTC), next)

	next, err = s.NextRun(time.Date(2026, 5, 10, 2, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC), next)
}

func TestScheduler_RunCleanup(t *testing.T) {
	now := time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)
	db := &mockRunStore{}
	db.On("PurgeFinishedRuns", mock.Anything, now.AddDate(0, 0, -7)).Return(int64(4), nil)

	s, err := NewScheduler(db, "@daily", 7, quietLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	before := metrics.CounterValue("workflow_runs_purged_total", nil)
	assert.Equal(t, int64(4), s.RunCleanup(context.Background()))
	assert.Equal(t, before+4, metrics.CounterValue("workflow_runs_purged_total", nil))
	db.AssertExpectations(t)
}

func TestScheduler_RunCleanupError(t *testing.T) {
	db := &mockRunStore{}
	db.On("PurgeFinishedRuns", mock.Anything, mock.Anything).Return(int64(0), assert.AnError)

	s, err := NewScheduler(db, "@daily", 7, quietLogger())
	require.NoError(t, err)
	assert.Zero(t, s.RunCleanup(context.Background()))
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	s, err := NewScheduler(&mockRunStore{}, "@yearly", 7, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_Stop(t *testing.T) {
	s, err := NewScheduler(&mockRunStore{}, "@yearly", 7, quietLogger())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunMonitor_Check(t *testing.T) {
	db := &mockRunStore{}
	db.On("CountRunsByStatus", mock.Anything).Return(map[models.RunStatus]int{
		models.RunSuspended: 5,
		models.RunFailed:    2,
	}, nil)

	m := NewRunMonitor(db, time.Minute, quietLogger())
	assert.Equal(t, 2, m.Check(context.Background()))
	assert.Equal(t, 2.0, metrics.GaugeValue("workflow_runs_failed", nil))
	assert.Equal(t, 5.0, metrics.GaugeValue("workflow_runs", map[string]string{"status": "suspended"}))
	assert.Equal(t, 0.0, metrics.GaugeValue("workflow_runs", map[string]string{"status": "running"}))
}

func TestRunMonitor_CheckError(t *testing.T) {
	db := &mockRunStore{}
	db.On("CountRunsByStatus", mock.Anything).Return(nil, assert.AnError)

	m := NewRunMonitor(db, time.Minute, quietLogger())
	assert.Zero(t, m.Check(context.Background()))
}

func TestRunMonitor_StartChecksImmediately(t *testing.T) {
	db := &mockRunStore{}
	checked := make(chan struct{}, 1)
	db.On("CountRunsByStatus", mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case checked <- struct{}{}:
			default:
			}
		}).
		Return(map[models.RunStatus]int{}, nil)

	m := NewRunMonitor(db, time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	select {
	case <-checked:
	case <-time.After(time.Second):
		t.Fatal("monitor did not check on start")
	}
}
