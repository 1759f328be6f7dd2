package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agencyflow/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	domain TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS workflows (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	version INT NOT NULL,
	is_latest BOOLEAN NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	steps JSONB NOT NULL,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, workflow_id, version)
);
CREATE INDEX IF NOT EXISTS idx_workflows_latest ON workflows(tenant_id, workflow_id) WHERE is_latest;
CREATE TABLE IF NOT EXISTS executions (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	workflow_version_id TEXT NOT NULL,
	status TEXT NOT NULL,
	input JSONB,
	credits_used BIGINT NOT NULL DEFAULT 0,
	error_message TEXT,
	cancel_requested BOOLEAN NOT NULL DEFAULT false,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_executions_tenant_workflow ON executions(tenant_id, workflow_id, started_at);
CREATE TABLE IF NOT EXISTS step_results (
	id UUID PRIMARY KEY,
	execution_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	step_name TEXT NOT NULL,
	integration TEXT NOT NULL,
	position INT NOT NULL,
	status TEXT NOT NULL,
	credits_charged BIGINT NOT NULL DEFAULT 0,
	output JSONB,
	error_kind TEXT,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_step_results_execution ON step_results(execution_id, position);
CREATE TABLE IF NOT EXISTS integration_configs (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	name TEXT NOT NULL,
	base_url TEXT,
	credentials JSONB NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, provider)
);
`

// Init creates the necessary database tables.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetTenantByDomain retrieves a tenant by its email domain.
func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		"SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1",
		domain).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTenant inserts a new tenant, assigning an id if missing.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	_, err := s.db.Exec(ctx,
		"INSERT INTO tenants (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		tenant.ID, tenant.Name, tenant.Domain, tenant.CreatedAt, tenant.UpdatedAt)
	return err
}

// CreateWorkflow writes a new immutable workflow version. If the stable
// workflow id already has versions, the new row becomes the latest and
// earlier rows keep their content untouched.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var maxVersion int
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM workflows WHERE tenant_id = $1 AND workflow_id = $2",
		workflow.TenantID, workflow.WorkflowID).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("failed to resolve workflow version: %w", err)
	}

	if maxVersion > 0 {
		_, err = tx.Exec(ctx,
			"UPDATE workflows SET is_latest = false WHERE tenant_id = $1 AND workflow_id = $2 AND is_latest",
			workflow.TenantID, workflow.WorkflowID)
		if err != nil {
			return fmt.Errorf("failed to demote previous version: %w", err)
		}
	}

	workflow.ID = uuid.New().String()
	workflow.Version = maxVersion + 1
	workflow.IsLatest = true
	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (id, tenant_id, workflow_id, version, is_latest, name, description, status, steps, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		workflow.ID, workflow.TenantID, workflow.WorkflowID, workflow.Version, workflow.IsLatest,
		workflow.Name, workflow.Description, workflow.Status, steps, workflow.CreatedBy,
		workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	return tx.Commit(ctx)
}

const workflowColumns = "id, tenant_id, workflow_id, version, is_latest, name, description, status, steps, created_by, created_at, updated_at"

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	var steps []byte
	err := row.Scan(&w.ID, &w.TenantID, &w.WorkflowID, &w.Version, &w.IsLatest,
		&w.Name, &w.Description, &w.Status, &steps, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &w.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	return &w, nil
}

// GetWorkflow retrieves the latest version of a workflow for a tenant.
func (s *PostgresStore) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE tenant_id = $1 AND workflow_id = $2 AND is_latest",
		tenantID, workflowID)
	return scanWorkflow(row)
}

// GetWorkflowVersion retrieves one exact immutable workflow version.
func (s *PostgresStore) GetWorkflowVersion(ctx context.Context, versionID string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE id = $1", versionID)
	return scanWorkflow(row)
}

// ListWorkflows returns the latest version of every workflow for a tenant.
func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE tenant_id = $1 AND is_latest ORDER BY name",
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CreateExecution inserts a new pending execution.
func (s *PostgresStore) CreateExecution(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	execution.Status = models.ExecutionPending
	execution.StartedAt = time.Now().UTC()

	input, err := json.Marshal(execution.Input)
	if err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO executions (id, tenant_id, workflow_id, workflow_version_id, status, input, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		execution.ID, execution.TenantID, execution.WorkflowID, execution.WorkflowVersionID,
		execution.Status, input, execution.StartedAt)
	return err
}

const executionColumns = "id, tenant_id, workflow_id, workflow_version_id, status, input, credits_used, error_message, cancel_requested, started_at, completed_at"

func scanExecution(row pgx.Row) (*models.Execution, error) {
	var e models.Execution
	var input []byte
	var errMsg *string
	err := row.Scan(&e.ID, &e.TenantID, &e.WorkflowID, &e.WorkflowVersionID, &e.Status,
		&input, &e.CreditsUsed, &errMsg, &e.CancelRequested, &e.StartedAt, &e.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		e.ErrorMessage = *errMsg
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &e.Input); err != nil {
			return nil, fmt.Errorf("failed to decode input: %w", err)
		}
	}
	return &e, nil
}

// GetExecution retrieves one execution by id.
func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE id = $1", id)
	return scanExecution(row)
}

// ListExecutions returns executions for a workflow, newest first.
func (s *PostgresStore) ListExecutions(ctx context.Context, tenantID, workflowID string, filter ExecutionFilter) ([]*models.Execution, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := "SELECT " + executionColumns + " FROM executions WHERE tenant_id = $1 AND workflow_id = $2"
	args := []interface{}{tenantID, workflowID}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkExecutionRunning transitions a pending execution to running.
func (s *PostgresStore) MarkExecutionRunning(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE executions SET status = $1 WHERE id = $2 AND status = $3",
		models.ExecutionRunning, id, models.ExecutionPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishExecution records the terminal state of an execution.
func (s *PostgresStore) FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, creditsUsed int64) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE executions SET status = $1, error_message = $2, credits_used = $3, completed_at = $4 WHERE id = $5 AND status IN ($6, $7)",
		status, errMsg, creditsUsed, time.Now().UTC(), id, models.ExecutionPending, models.ExecutionRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCancel flags a non-terminal execution for cancellation. The engine
// observes the flag at the next step boundary.
func (s *PostgresStore) RequestCancel(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE executions SET cancel_requested = true WHERE id = $1 AND status IN ($2, $3)",
		id, models.ExecutionPending, models.ExecutionRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsCancelRequested reports whether cancellation has been requested.
func (s *PostgresStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.db.QueryRow(ctx,
		"SELECT cancel_requested FROM executions WHERE id = $1", id).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return requested, err
}

// RecordStepResult appends one step result. Results are never updated.
func (s *PostgresStore) RecordStepResult(ctx context.Context, result *models.StepResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	output, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	var errKind, errMsg *string
	if result.ErrorKind != "" {
		errKind = &result.ErrorKind
	}
	if result.ErrorMessage != "" {
		errMsg = &result.ErrorMessage
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO step_results (id, execution_id, step_id, step_name, integration, position, status, credits_charged, output, error_kind, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		result.ID, result.ExecutionID, result.StepID, result.StepName, result.Integration,
		result.Position, result.Status, result.CreditsCharged, output, errKind, errMsg,
		result.StartedAt, result.CompletedAt)
	return err
}

// ListStepResults returns an execution's step results in declaration order.
func (s *PostgresStore) ListStepResults(ctx context.Context, executionID string) ([]*models.StepResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, step_id, step_name, integration, position, status, credits_charged, output, error_kind, error_message, started_at, completed_at
		FROM step_results WHERE execution_id = $1 ORDER BY position`,
		executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StepResult
	for rows.Next() {
		var r models.StepResult
		var output []byte
		var errKind, errMsg *string
		err := rows.Scan(&r.ID, &r.ExecutionID, &r.StepID, &r.StepName, &r.Integration,
			&r.Position, &r.Status, &r.CreditsCharged, &output, &errKind, &errMsg,
			&r.StartedAt, &r.CompletedAt)
		if err != nil {
			return nil, err
		}
		if errKind != nil {
			r.ErrorKind = *errKind
		}
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &r.Output); err != nil {
				return nil, fmt.Errorf("failed to decode output: %w", err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetIntegrationConfig retrieves the active config for a tenant and provider.
func (s *PostgresStore) GetIntegrationConfig(ctx context.Context, tenantID string, provider models.IntegrationType) (*models.IntegrationConfig, error) {
	var c models.IntegrationConfig
	var credentials []byte
	var baseURL *string
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, provider, name, base_url, credentials, active, created_at, updated_at
		FROM integration_configs WHERE tenant_id = $1 AND provider = $2 AND active`,
		tenantID, provider).Scan(&c.ID, &c.TenantID, &c.Provider, &c.Name, &baseURL,
		&credentials, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if baseURL != nil {
		c.BaseURL = *baseURL
	}
	if err := json.Unmarshal(credentials, &c.Credentials); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &c, nil
}

// UpsertIntegrationConfig creates or replaces a tenant's provider config.
func (s *PostgresStore) UpsertIntegrationConfig(ctx context.Context, config *models.IntegrationConfig) error {
	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	config.UpdatedAt = now
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	credentials, err := json.Marshal(config.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO integration_configs (id, tenant_id, provider, name, base_url, credentials, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, provider) DO UPDATE
		SET name = EXCLUDED.name, base_url = EXCLUDED.base_url, credentials = EXCLUDED.credentials,
		    active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		config.ID, config.TenantID, config.Provider, config.Name, config.BaseURL,
		credentials, config.Active, config.CreatedAt, config.UpdatedAt)
	return err
}
