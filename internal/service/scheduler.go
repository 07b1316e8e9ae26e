package service

import (
	"context"
	"fmt"
	"time"

	"pingup/internal/constants"
	"pingup/internal/metrics"

	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"
)

const cronRetryDelay = 30 * time.Second

// RunPurger deletes finished workflow runs.
type RunPurger interface {
	PurgeFinishedRuns(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler purges completed and failed workflow runs older than the
// retention period on a cron schedule.
type Scheduler struct {
	db            RunPurger
	schedule      string
	retentionDays int
	logger        *logrus.Logger
	now           func() time.Time
	stopCh        chan struct{}
}

func NewScheduler(db RunPurger, schedule string, retentionDays int, logger *logrus.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = constants.DefaultCleanupSchedule
	}
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid cleanup schedule: %q", schedule)
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	return &Scheduler{
		db:            db,
		schedule:      schedule,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}, nil
}

// NextRun returns the first scheduled cleanup strictly after ref.
func (s *Scheduler) NextRun(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.schedule, ref.UTC(), false)
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"schedule":       s.schedule,
		"retention_days": s.retentionDays,
	}).Info("Starting cleanup scheduler")

	for {
		wait := cronRetryDelay
		next, err := s.NextRun(s.now())
		if err != nil {
			s.logger.WithError(err).Error("Failed to compute next cleanup time")
		} else {
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			timer.Stop()
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-timer.C:
			if err == nil {
				s.RunCleanup(ctx)
			}
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// RunCleanup purges finished runs last updated before the retention cutoff.
func (s *Scheduler) RunCleanup(ctx context.Context) int64 {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	s.logger.WithField("retention_days", s.retentionDays).Info("Running scheduled cleanup")

	deleted, err := s.db.PurgeFinishedRuns(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge finished workflow runs")
		return 0
	}

	metrics.AddToCounter("workflow_runs_purged_total", float64(deleted), nil, "Finished workflow runs removed by retention")
	s.logger.WithField(LogFieldCount, deleted).Info("Successfully completed cleanup")
	return deleted
}
