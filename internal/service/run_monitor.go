package service

import (
	"context"
	"time"

	"pingup/internal/metrics"
	"pingup/internal/models"

	"github.com/sirupsen/logrus"
)

// RunCounter reports how many workflow runs are in each state.
type RunCounter interface {
	CountRunsByStatus(ctx context.Context) (map[models.RunStatus]int, error)
}

// RunMonitor publishes workflow run counts as gauges and warns while failed
// runs exist. Failed runs are terminal and need an operator.
type RunMonitor struct {
	db            RunCounter
	checkInterval time.Duration
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewRunMonitor(db RunCounter, checkInterval time.Duration, logger *logrus.Logger) *RunMonitor {
	return &RunMonitor{
		db:            db,
		checkInterval: checkInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (m *RunMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithField("check_interval", m.checkInterval).Info("Starting workflow run monitor")

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *RunMonitor) Stop() {
	close(m.stopCh)
}

// Check refreshes the run gauges once and returns the failed run count.
func (m *RunMonitor) Check(ctx context.Context) int {
	counts, err := m.db.CountRunsByStatus(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to count workflow runs")
		return 0
	}

	for _, status := range []models.RunStatus{models.RunCreated, models.RunRunning, models.RunSuspended, models.RunCompleted} {
		metrics.SetGauge("workflow_runs", float64(counts[status]), map[string]string{"status": string(status)}, "Workflow runs by state")
	}
	failed := counts[models.RunFailed]
	metrics.SetGauge("workflow_runs_failed", float64(failed), nil, "Workflow runs that exhausted their retries")

	if failed > 0 {
		m.logger.WithField("failed_runs", failed).
			Warn("Workflow runs have failed and need operator attention")
	}
	return failed
}
