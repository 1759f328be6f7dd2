package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// StepStatus is the lifecycle state of one step within an execution.
type StepStatus string

const (
	StepQueued    StepStatus = "queued"
	StepExecuting StepStatus = "executing"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Execution is one run of a Workflow version for a Tenant. It is created on
// a run request and mutated only by the execution engine.
type Execution struct {
	ID                string                 `json:"id"`
	TenantID          string                 `json:"tenant_id"`
	WorkflowID        string                 `json:"workflow_id"`         // stable concept id
	WorkflowVersionID string                 `json:"workflow_version_id"` // exact version executed
	Status            ExecutionStatus        `json:"status"`
	Input             map[string]interface{} `json:"input,omitempty"`
	CreditsUsed       int64                  `json:"credits_used"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	CancelRequested   bool                   `json:"cancel_requested"`
	StartedAt         time.Time              `json:"started_at"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	Steps             []StepResult           `json:"steps,omitempty"` // populated on detail reads
}

// StepResult is the append-only record of one step's outcome.
type StepResult struct {
	ID             string                 `json:"id"`
	ExecutionID    string                 `json:"execution_id"`
	StepID         string                 `json:"step_id"`
	StepName       string                 `json:"step_name"`
	Integration    IntegrationType        `json:"integration"`
	Position       int                    `json:"position"`
	Status         StepStatus             `json:"status"`
	CreditsCharged int64                  `json:"credits_charged"`
	Output         map[string]interface{} `json:"output,omitempty"`
	ErrorKind      string                 `json:"error_kind,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}
