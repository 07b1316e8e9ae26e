package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pingup/internal/constants"
	"pingup/internal/database"
	apperrors "pingup/internal/errors"
	"pingup/internal/metrics"
	"pingup/internal/models"
	"pingup/internal/retry"
	"pingup/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// releaseTimeout bounds the bookkeeping done after a run's context is gone.
const releaseTimeout = 5 * time.Second

const (
	logFieldRunID    = "run_id"
	logFieldStep     = "step"
	logFieldWorkflow = "workflow"
	logFieldAttempt  = "attempt"
)

// Definition is a workflow type and the code that drives its runs. Run is
// replayed from the top every time the run is resumed, so it must reach
// side effects only through RunContext.Step.
type Definition struct {
	Type string
	Run  func(ctx context.Context, rc *RunContext) (any, error)
}

// Config controls the scheduling loop and step retries.
type Config struct {
	PollInterval time.Duration
	Lease        time.Duration
	Concurrency  int
	Backoff      retry.BackoffConfig
}

// ConfigFrom builds an engine config from the application config.
func ConfigFrom(wf models.WorkflowConfig, rc models.RetryConfig) Config {
	cfg := Config{
		PollInterval: time.Duration(wf.PollIntervalMs) * time.Millisecond,
		Lease:        time.Duration(wf.LeaseSec) * time.Second,
		Concurrency:  wf.Concurrency,
		Backoff:      retry.ConfigFrom(rc),
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultWorkflowPollIntervalMs * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = constants.DefaultWorkflowLeaseSec * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.DefaultWorkflowConcurrency
	}
	return cfg
}

// StartOption customizes Engine.Start.
type StartOption func(*models.WorkflowRun)

// WithDedupeKey makes Start return the existing run when a run with the
// same key was already created.
func WithDedupeKey(key string) StartOption {
	return func(run *models.WorkflowRun) {
		run.DedupeKey = key
	}
}

// Engine executes durable workflow runs. All run state lives in the Store;
// a suspended run holds no goroutine and survives restarts.
type Engine struct {
	store   Store
	cfg     Config
	backoff *retry.Backoff
	logger  *logrus.Logger
	owner   string
	now     func() time.Time

	mu          sync.RWMutex
	definitions map[string]Definition

	sem    chan struct{}
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	runMu   sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewEngine creates an engine. Runs are executed under a fresh lease owner
// id so a restarted process never mistakes an old lease for its own.
func NewEngine(store Store, cfg Config, logger *logrus.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.DefaultWorkflowConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultWorkflowPollIntervalMs * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = constants.DefaultWorkflowLeaseSec * time.Second
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = retry.DefaultBackoffConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       store,
		cfg:         cfg,
		backoff:     retry.NewBackoff(cfg.Backoff),
		logger:      logger,
		owner:       "engine-" + uuid.NewString(),
		now:         time.Now,
		definitions: make(map[string]Definition),
		sem:         make(chan struct{}, cfg.Concurrency),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Register adds a workflow definition.
func (e *Engine) Register(def Definition) error {
	if def.Type == "" || def.Run == nil {
		return fmt.Errorf("workflow definition requires a type and a run function")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.definitions[def.Type]; exists {
		return fmt.Errorf("workflow %q already registered", def.Type)
	}
	e.definitions[def.Type] = def
	return nil
}

func (e *Engine) definition(workflowType string) (Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[workflowType]
	return def, ok
}

// Start persists a new run and begins executing it on the engine's worker
// pool. The returned id is durable before Start returns; execution does not
// depend on ctx.
func (e *Engine) Start(ctx context.Context, workflowType string, payload any, opts ...StartOption) (string, error) {
	if _, ok := e.definition(workflowType); !ok {
		return "", apperrors.NewValidationError("workflow", workflowType, "unknown workflow type")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.NewValidationError("payload", "", fmt.Sprintf("payload is not serializable: %v", err))
	}

	run := &models.WorkflowRun{
		ID:           uuid.NewString(),
		WorkflowType: workflowType,
		Payload:      data,
	}
	for _, opt := range opts {
		opt(run)
	}

	stored, created, err := e.store.CreateRun(ctx, run)
	if err != nil {
		return "", err
	}

	logger := e.logger.WithFields(logrus.Fields{
		logFieldRunID:    stored.ID,
		logFieldWorkflow: workflowType,
	})
	if !created {
		logger.Debug("Workflow run already exists for dedupe key")
		return stored.ID, nil
	}

	metrics.IncrementCounter("workflow_runs_started_total", map[string]string{"workflow": workflowType}, "Workflow runs started")
	logger.Info("Started workflow run")

	e.tryDispatch(stored.ID)
	return stored.ID, nil
}

// tryDispatch claims and executes runID right away when a worker slot is
// free. Otherwise the run stays due and the loop picks it up.
func (e *Engine) tryDispatch(runID string) {
	select {
	case e.sem <- struct{}{}:
	default:
		e.poke()
		return
	}

	run, err := e.store.ClaimRun(e.ctx, runID, e.owner, e.now(), e.cfg.Lease)
	if err != nil || run == nil {
		<-e.sem
		if err != nil && e.ctx.Err() == nil {
			e.logger.WithError(err).WithField(logFieldRunID, runID).Warn("Failed to claim workflow run, leaving it to the scheduler")
		}
		return
	}
	e.dispatch(run)
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// dispatch runs a claimed run on its own goroutine. The caller holds a
// worker slot which execute releases.
func (e *Engine) dispatch(run *models.WorkflowRun) {
	e.runMu.Lock()
	if e.stopped {
		e.runMu.Unlock()
		<-e.sem
		e.release(run.ID)
		return
	}
	e.wg.Add(1)
	e.runMu.Unlock()

	go e.execute(run)
}

// Serve runs the scheduling loop until ctx is cancelled or Stop is called.
func (e *Engine) Serve(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.mu.RLock()
	definitions := len(e.definitions)
	e.mu.RUnlock()

	e.logger.WithFields(logrus.Fields{
		"owner":         e.owner,
		"poll_interval": e.cfg.PollInterval.String(),
		"lease":         e.cfg.Lease.String(),
		"concurrency":   e.cfg.Concurrency,
		"max_attempts":  e.backoff.MaxAttempts(),
		"definitions":   definitions,
	}).Info("Starting workflow engine")

	e.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Workflow engine context cancelled, stopping loop")
			return
		case <-e.ctx.Done():
			e.logger.Info("Workflow engine stop signal received, stopping loop")
			return
		case <-ticker.C:
			e.poll(ctx)
		case <-e.wake:
			e.poll(ctx)
		}
	}
}

// poll reserves every free worker slot, claims at most that many due runs
// and hands back the slots it did not use. Each claimed run already owns a
// slot, so the loop never waits while holding unstarted leases.
func (e *Engine) poll(ctx context.Context) {
	slots := e.reserveSlots()
	if slots == 0 {
		return
	}

	runs, err := e.store.ClaimDueRuns(ctx, e.owner, e.now(), e.cfg.Lease, slots)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.WithError(err).Error("Failed to claim due workflow runs")
		}
	}
	for _, run := range runs {
		if run.Status == models.RunRunning && run.Attempts > 1 {
			e.logger.WithFields(logrus.Fields{
				logFieldRunID:    run.ID,
				logFieldWorkflow: run.WorkflowType,
				logFieldAttempt:  run.Attempts,
			}).Debug("Resuming workflow run")
		}
		e.dispatch(run)
	}
	for i := len(runs); i < slots; i++ {
		<-e.sem
	}
}

func (e *Engine) reserveSlots() int {
	slots := 0
	for slots < cap(e.sem) {
		select {
		case e.sem <- struct{}{}:
			slots++
		default:
			return slots
		}
	}
	return slots
}

// Stop cancels in-flight runs, waits for them to hand their leases back
// and stops the loop. Interrupted runs resume on the next start.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if e.stopped {
		e.runMu.Unlock()
		return
	}
	e.stopped = true
	e.runMu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.logger.Info("Workflow engine stopped")
}

func (e *Engine) execute(run *models.WorkflowRun) {
	defer e.wg.Done()
	defer func() { <-e.sem }()

	logger := e.logger.WithFields(logrus.Fields{
		logFieldRunID:    run.ID,
		logFieldWorkflow: run.WorkflowType,
	})

	def, ok := e.definition(run.WorkflowType)
	if !ok {
		logger.Error("No definition registered for workflow run")
		e.fail(run.ID, run.WorkflowType, fmt.Sprintf("unknown workflow type %q", run.WorkflowType))
		return
	}

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	stopHeartbeat := e.keepLease(ctx, cancel, run.ID)
	defer stopHeartbeat()

	ctx, span := tracing.StartSpan(ctx, "workflow.run",
		attribute.String("workflow.type", run.WorkflowType),
		attribute.String("workflow.run_id", run.ID),
		attribute.Int("workflow.attempt", run.Attempts),
	)

	startTime := time.Now()
	rc := &RunContext{engine: e, run: run, ctx: ctx}
	output, err := e.runDefinition(ctx, def, rc)

	labels := map[string]string{"workflow": run.WorkflowType}
	switch {
	case err == nil:
		data, merr := json.Marshal(output)
		if merr != nil {
			tracing.EndSpan(span, merr)
			e.fail(run.ID, run.WorkflowType, fmt.Sprintf("run output is not serializable: %v", merr))
			return
		}
		if cerr := e.store.CompleteRun(ctx, run.ID, e.owner, data); cerr != nil {
			tracing.EndSpan(span, cerr)
			logger.WithError(cerr).Error("Failed to complete workflow run")
			e.release(run.ID)
			return
		}
		tracing.EndSpan(span, nil)
		metrics.IncrementCounter("workflow_runs_completed_total", labels, "Workflow runs completed")
		metrics.RecordTimer("workflow_run_segment_duration", time.Since(startTime), labels, "Time spent executing a run between suspensions")
		logger.Info("Completed workflow run")

	case errors.Is(err, ErrSuspended):
		tracing.EndSpan(span, nil)
		metrics.RecordTimer("workflow_run_segment_duration", time.Since(startTime), labels, "Time spent executing a run between suspensions")

	case errors.Is(err, ErrStepFailed):
		tracing.EndSpan(span, err)
		logger.WithError(err).Error("Workflow run failed")

	case ctx.Err() != nil, errors.Is(err, database.ErrLeaseLost), isTransientStoreError(err):
		tracing.EndSpan(span, err)
		logger.WithError(err).Warn("Workflow run interrupted, releasing for retry")
		e.release(run.ID)

	default:
		tracing.EndSpan(span, err)
		logger.WithError(err).Error("Workflow run failed")
		e.fail(run.ID, run.WorkflowType, err.Error())
	}
}

// runDefinition converts a panic in definition code into a failed run.
func (e *Engine) runDefinition(ctx context.Context, def Definition, rc *RunContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("workflow panicked: %v", r))
		}
	}()
	return def.Run(ctx, rc)
}

// keepLease extends the run's lease while it executes. Losing the lease
// cancels the run so two executors never keep working on it.
func (e *Engine) keepLease(ctx context.Context, cancel context.CancelFunc, runID string) func() {
	interval := e.cfg.Lease / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := e.store.ExtendLease(ctx, runID, e.owner, e.now().Add(e.cfg.Lease))
				if errors.Is(err, database.ErrLeaseLost) {
					e.logger.WithField(logFieldRunID, runID).Warn("Lost workflow run lease, abandoning execution")
					cancel()
					return
				}
				if err != nil && ctx.Err() == nil {
					e.logger.WithError(err).WithField(logFieldRunID, runID).Warn("Failed to extend workflow run lease")
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *Engine) fail(runID, workflowType, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := e.store.FailRun(ctx, runID, e.owner, reason); err != nil && !errors.Is(err, database.ErrLeaseLost) {
		e.logger.WithError(err).WithField(logFieldRunID, runID).Error("Failed to mark workflow run failed")
		return
	}
	metrics.IncrementCounter("workflow_runs_failed_total", map[string]string{"workflow": workflowType}, "Workflow runs failed")
}

func (e *Engine) release(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := e.store.ReleaseRun(ctx, runID, e.owner); err != nil && !errors.Is(err, database.ErrLeaseLost) {
		e.logger.WithError(err).WithField(logFieldRunID, runID).Warn("Failed to release workflow run lease")
	}
}

// RunStep executes work at most once per (runID, stepName) as observed
// through the store. A recorded step returns its stored output without
// calling work. Failures are retried with backoff; when retries are
// exhausted, or the error is permanent, the run is marked failed and an
// error wrapping ErrStepFailed is returned. An error that carries a retry
// delay parks the run for that long and returns ErrSuspended.
func (e *Engine) RunStep(ctx context.Context, runID, stepName string, work StepFunc) (json.RawMessage, error) {
	logger := e.logger.WithFields(logrus.Fields{
		logFieldRunID: runID,
		logFieldStep:  stepName,
	})

	existing, err := e.store.GetStep(ctx, runID, stepName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.IncrementCounter("workflow_step_replays_total", nil, "Workflow steps answered from their stored result")
		logger.Debug("Replaying memoized workflow step")
		return existing.Output, nil
	}

	ctx, span := tracing.StartSpan(ctx, "workflow.step", attribute.String("workflow.step", stepName))
	startTime := time.Now()

	var output json.RawMessage
	attempts, err := e.backoff.Do(ctx, func(attempt int) error {
		result, err := work(ctx)
		if err != nil {
			return err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return Permanent(fmt.Errorf("step result is not serializable: %w", err))
		}
		output = data
		return nil
	}, isRetryable, func(attempt int, err error, delay time.Duration) {
		metrics.IncrementCounter("workflow_step_retries_total", map[string]string{"step": stepName}, "Workflow step retries")
		logger.WithError(err).WithFields(logrus.Fields{
			logFieldAttempt: attempt,
			"retry_in_ms":   delay.Milliseconds(),
		}).Warn("Retrying workflow step")
	})
	metrics.RecordTimer("workflow_step_duration", time.Since(startTime), map[string]string{"step": stepName}, "Workflow step execution time including retries")

	if err != nil {
		tracing.EndSpan(span, err)
		if ctx.Err() != nil {
			return nil, err
		}
		if wait, ok := deferral(err); ok {
			return nil, e.deferStep(ctx, logger, runID, stepName, wait, err)
		}

		reason := fmt.Sprintf("step %q failed after %d attempt(s): %v", stepName, attempts, err)
		if ferr := e.store.FailRun(context.WithoutCancel(ctx), runID, e.owner, reason); ferr != nil && !errors.Is(ferr, database.ErrLeaseLost) {
			logger.WithError(ferr).Error("Failed to mark workflow run failed")
		} else if ferr == nil {
			metrics.IncrementCounter("workflow_steps_exhausted_total", map[string]string{"step": stepName}, "Workflow steps that failed the run")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrStepFailed, stepName, err)
	}
	tracing.EndSpan(span, nil)

	// The side effect has happened. Record it even if the run is being
	// stopped, or the next executor would repeat it.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	stored, err := e.store.SaveStep(saveCtx, &models.StepRecord{
		RunID:    runID,
		Name:     stepName,
		Output:   output,
		Attempts: attempts,
	})
	if err != nil {
		return nil, err
	}
	logger.WithField(logFieldAttempt, attempts).Debug("Recorded workflow step")
	return stored.Output, nil
}

// deferStep parks the run until a refusing dependency accepts calls again.
// The step keeps its full retry budget for the next execution.
func (e *Engine) deferStep(ctx context.Context, logger *logrus.Entry, runID, stepName string, wait time.Duration, cause error) error {
	if wait < e.cfg.PollInterval {
		wait = e.cfg.PollInterval
	}
	at := e.now().Add(wait)
	if err := e.SuspendUntil(ctx, runID, at); err != nil {
		return err
	}
	metrics.IncrementCounter("workflow_steps_deferred_total", map[string]string{"step": stepName}, "Workflow steps parked while a dependency refused calls")
	logger.WithError(cause).WithField("resume_at", at.UTC().Format(time.RFC3339)).Warn("Dependency unavailable, deferring workflow step")
	return ErrSuspended
}

// SuspendUntil parks the run until at and gives up the lease. The loop
// resumes it once at has passed, in this process or a later one.
func (e *Engine) SuspendUntil(ctx context.Context, runID string, at time.Time) error {
	if err := e.store.SuspendRun(ctx, runID, e.owner, at); err != nil {
		return err
	}
	metrics.IncrementCounter("workflow_runs_suspended_total", nil, "Workflow run suspensions")
	e.logger.WithFields(logrus.Fields{
		logFieldRunID: runID,
		"resume_at":   at.UTC().Format(time.RFC3339),
	}).Info("Suspended workflow run")
	return nil
}

// GetRun returns the run with its step records.
func (e *Engine) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperrors.NewNotFoundError("workflow run", runID)
	}

	steps, err := e.store.GetSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}
