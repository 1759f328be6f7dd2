package repository

import (
	"context"
	"errors"

	"agencyflow/backend/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("repository: not found")

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	Status models.ExecutionStatus
	Limit  int
	Offset int
}

// Repository is the persistence boundary for tenants, workflow definitions,
// executions, step results, and integration configuration. Workflow versions
// are immutable once created; executions are mutated only through the
// explicit status transitions below; step results are append-only.
type Repository interface {
	Ping(ctx context.Context) error

	// Tenants (consumed by the auth layer).
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error

	// Workflow definitions. CreateWorkflow writes a new immutable version
	// and flips the is_latest marker; it never updates an existing row.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error)
	GetWorkflowVersion(ctx context.Context, versionID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error)

	// Executions.
	CreateExecution(ctx context.Context, execution *models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, tenantID, workflowID string, filter ExecutionFilter) ([]*models.Execution, error)
	MarkExecutionRunning(ctx context.Context, id string) error
	FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, creditsUsed int64) error
	RequestCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)

	// Step results (append-only).
	RecordStepResult(ctx context.Context, result *models.StepResult) error
	ListStepResults(ctx context.Context, executionID string) ([]*models.StepResult, error)

	// Integration configuration (owned by the CRUD layer, read here).
	GetIntegrationConfig(ctx context.Context, tenantID string, provider models.IntegrationType) (*models.IntegrationConfig, error)
	UpsertIntegrationConfig(ctx context.Context, config *models.IntegrationConfig) error
}
