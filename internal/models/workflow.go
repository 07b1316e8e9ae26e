package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunSuspended RunStatus = "suspended"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// WorkflowRun is one persisted execution of a workflow definition.
type WorkflowRun struct {
	ID           string          `json:"run_id"`
	WorkflowType string          `json:"workflow"`
	DedupeKey    string          `json:"dedupe_key,omitempty"`
	Status       RunStatus       `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	ResumeAt     *time.Time      `json:"resume_at,omitempty"`
	LockedUntil  *time.Time      `json:"-"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Steps        []*StepRecord   `json:"steps,omitempty"`
}

// StepRecord is the memoized result of one completed step.
type StepRecord struct {
	RunID       string          `json:"-"`
	Name        string          `json:"name"`
	Output      json.RawMessage `json:"output"`
	Attempts    int             `json:"attempts"`
	CompletedAt time.Time       `json:"completed_at"`
}
