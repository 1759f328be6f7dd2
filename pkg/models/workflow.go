package models

import (
	"time"
)

// Workflow is one immutable version of a step pipeline.
type Workflow struct {
	ID          string         `json:"id"`          // Unique Version ID
	TenantID    string         `json:"tenant_id"`   // Multi-tenancy isolation
	WorkflowID  string         `json:"workflow_id"` // Stable Concept ID
	Version     int            `json:"version"`
	IsLatest    bool           `json:"is_latest"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowStep declares a single integration call within a workflow.
// Steps run strictly in slice order; later steps may read earlier outputs.
type WorkflowStep struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Integration    IntegrationType        `json:"integration"`
	Params         map[string]interface{} `json:"params"`
	EstimatedCost  int64                  `json:"estimated_cost"` // credits reserved before the call
	Condition      string                 `json:"condition,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"`
}
