package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pingup/internal/models"
)

// StepFunc performs one step's side effect. Its result is stored as JSON
// and returned verbatim on every later replay of the step.
type StepFunc func(ctx context.Context) (any, error)

// RunContext is handed to a definition for one execution of a run.
type RunContext struct {
	engine *Engine
	run    *models.WorkflowRun
	ctx    context.Context
}

// RunID returns the id of the executing run.
func (rc *RunContext) RunID() string {
	return rc.run.ID
}

// Attempt is 1 on the first execution and grows on every resume or
// crash recovery.
func (rc *RunContext) Attempt() int {
	return rc.run.Attempts
}

// Payload decodes the trigger payload into v. A payload that does not
// decode can never succeed, so the error is permanent.
func (rc *RunContext) Payload(v any) error {
	if err := json.Unmarshal(rc.run.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", rc.run.WorkflowType, err))
	}
	return nil
}

// Step runs work once for this run under name. See Engine.RunStep.
func (rc *RunContext) Step(name string, work StepFunc) (json.RawMessage, error) {
	return rc.engine.RunStep(rc.ctx, rc.run.ID, name, work)
}

// StepInto runs Step and decodes its stored result into out.
func (rc *RunContext) StepInto(name string, work StepFunc, out any) error {
	raw, err := rc.Step(name, work)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Permanent(fmt.Errorf("decode result of step %q: %w", name, err))
	}
	return nil
}

type sleepRecord struct {
	WakeAt time.Time `json:"wake_at"`
}

// SleepUntil suspends the run until at. The wake time is recorded as step
// name, so a replay keeps the first value even if at is computed again.
// It returns nil once the wake time has passed and ErrSuspended otherwise;
// callers return ErrSuspended from their definition.
func (rc *RunContext) SleepUntil(name string, at time.Time) error {
	return rc.sleep(name, func() time.Time { return at })
}

// Sleep suspends the run for d measured from the first time the step runs.
func (rc *RunContext) Sleep(name string, d time.Duration) error {
	return rc.sleep(name, func() time.Time { return rc.engine.now().Add(d) })
}

func (rc *RunContext) sleep(name string, wakeAt func() time.Time) error {
	var record sleepRecord
	err := rc.StepInto(name, func(context.Context) (any, error) {
		return sleepRecord{WakeAt: wakeAt().UTC()}, nil
	}, &record)
	if err != nil {
		return err
	}

	if !rc.engine.now().Before(record.WakeAt) {
		return nil
	}
	if err := rc.engine.SuspendUntil(rc.ctx, rc.run.ID, record.WakeAt); err != nil {
		return err
	}
	return ErrSuspended
}
