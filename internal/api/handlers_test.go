package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyflow/backend/internal/engine"
	"agencyflow/backend/internal/integrations"
	"agencyflow/backend/internal/ledger"
	"agencyflow/backend/internal/repository"
	"agencyflow/backend/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (l *NoOpLogger) Info(msg string, args ...interface{})  {}
func (l *NoOpLogger) Error(msg string, args ...interface{}) {}

// fakeRepo is an in-memory Repository for handler tests.
type fakeRepo struct {
	mu         sync.Mutex
	workflows  map[string]*models.Workflow // by version id
	latest     map[string]*models.Workflow // by tenant/workflow id
	executions map[string]*models.Execution
	results    map[string][]*models.StepResult
	configs    map[string]*models.IntegrationConfig // by tenant/provider
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		workflows:  make(map[string]*models.Workflow),
		latest:     make(map[string]*models.Workflow),
		executions: make(map[string]*models.Execution),
		results:    make(map[string][]*models.StepResult),
		configs:    make(map[string]*models.IntegrationConfig),
	}
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return nil, repository.ErrNotFound
}
func (r *fakeRepo) CreateTenant(ctx context.Context, tenant *models.Tenant) error { return nil }
func (r *fakeRepo) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if workflow.ID == "" {
		workflow.ID = "wfv-" + workflow.WorkflowID
	}
	prev := r.latest[workflow.TenantID+"/"+workflow.WorkflowID]
	if prev != nil {
		workflow.Version = prev.Version + 1
	} else {
		workflow.Version = 1
	}
	workflow.IsLatest = true
	r.workflows[workflow.ID] = workflow
	r.latest[workflow.TenantID+"/"+workflow.WorkflowID] = workflow
	return nil
}
func (r *fakeRepo) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.latest[tenantID+"/"+workflowID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return wf, nil
}
func (r *fakeRepo) GetWorkflowVersion(ctx context.Context, versionID string) (*models.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.workflows[versionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return wf, nil
}
func (r *fakeRepo) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range r.latest {
		if wf.TenantID == tenantID {
			out = append(out, wf)
		}
	}
	return out, nil
}
func (r *fakeRepo) CreateExecution(ctx context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if execution.ID == "" {
		execution.ID = "exec-" + execution.WorkflowID
	}
	execution.Status = models.ExecutionPending
	execution.StartedAt = time.Now().UTC()
	r.executions[execution.ID] = execution
	return nil
}
func (r *fakeRepo) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *exec
	return &copied, nil
}
func (r *fakeRepo) ListExecutions(ctx context.Context, tenantID, workflowID string, filter repository.ExecutionFilter) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Execution
	for _, exec := range r.executions {
		if exec.TenantID != tenantID || exec.WorkflowID != workflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		out = append(out, exec)
	}
	return out, nil
}
func (r *fakeRepo) MarkExecutionRunning(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[id].Status = models.ExecutionRunning
	return nil
}
func (r *fakeRepo) FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, creditsUsed int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec := r.executions[id]
	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.CreditsUsed = creditsUsed
	return nil
}
func (r *fakeRepo) RequestCancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[id].CancelRequested = true
	return nil
}
func (r *fakeRepo) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[id].CancelRequested, nil
}
func (r *fakeRepo) RecordStepResult(ctx context.Context, result *models.StepResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.ExecutionID] = append(r.results[result.ExecutionID], result)
	return nil
}
func (r *fakeRepo) ListStepResults(ctx context.Context, executionID string) ([]*models.StepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[executionID], nil
}
func (r *fakeRepo) GetIntegrationConfig(ctx context.Context, tenantID string, provider models.IntegrationType) (*models.IntegrationConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[tenantID+"/"+string(provider)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cfg, nil
}
func (r *fakeRepo) UpsertIntegrationConfig(ctx context.Context, config *models.IntegrationConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[config.TenantID+"/"+string(config.Provider)] = config
	return nil
}

// fakeAdapter answers every invocation with a fixed result.
type fakeAdapter struct {
	kind   models.IntegrationType
	result *integrations.Result
	err    error
}

func (a *fakeAdapter) Kind() models.IntegrationType                     { return a.kind }
func (a *fakeAdapter) EstimateCost(params map[string]interface{}) int64 { return 1 }
func (a *fakeAdapter) Invoke(ctx context.Context, req integrations.Request) (*integrations.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type testEnv struct {
	echo   *echo.Echo
	server *Server
	repo   *fakeRepo
	ledger *ledger.MemoryLedger
	engine *engine.Engine
}

func newTestEnv(t *testing.T, adapters ...integrations.Adapter) *testEnv {
	t.Helper()
	repo := newFakeRepo()
	credits := ledger.NewMemoryLedger()
	registry := integrations.NewRegistry(adapters...)

	eng, err := engine.New(repo, credits, registry, &NoOpLogger{}, engine.Options{
		Retry: engine.RetryPolicy{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		},
		StepTimeout: time.Second,
	})
	require.NoError(t, err)

	server := NewServer(repo, credits, registry, eng)
	e := echo.New()
	server.Register(e.Group("/api/v1"))

	return &testEnv{echo: e, server: server, repo: repo, ledger: credits, engine: eng}
}

// do runs a request with the tenant already resolved, the way the auth
// middleware leaves it.
func (env *testEnv) do(method, path, tenant string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tenant != "" {
		req = req.WithContext(context.WithValue(req.Context(), "tenant_id", tenant))
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func seedWorkflow(t *testing.T, env *testEnv, tenant string, steps []models.WorkflowStep) *models.Workflow {
	t.Helper()
	wf := &models.Workflow{
		TenantID:   tenant,
		WorkflowID: "wf-1",
		Name:       "Test Workflow",
		Status:     "active",
		Steps:      steps,
	}
	require.NoError(t, env.repo.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestExecuteWorkflow(t *testing.T) {
	adapter := &fakeAdapter{
		kind:   models.IntegrationHTTP,
		result: &integrations.Result{Payload: map[string]interface{}{"ok": true}, CostIncurred: 1},
	}
	env := newTestEnv(t, adapter)
	seedWorkflow(t, env, "tenant-1", []models.WorkflowStep{
		{ID: "a", Name: "only", Integration: models.IntegrationHTTP},
	})
	_, err := env.ledger.Deposit(context.Background(), "tenant-1", 10, models.TransactionPurchase, "opening")
	require.NoError(t, err)
	require.NoError(t, env.repo.UpsertIntegrationConfig(context.Background(), &models.IntegrationConfig{
		TenantID: "tenant-1", Provider: models.IntegrationHTTP, Active: true,
	}))

	rec := env.do(http.MethodPost, "/api/v1/workflows/wf-1/execute", "tenant-1",
		`{"input":{"keyword":"espresso"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, models.ExecutionPending, resp.Status)

	// the dispatched run finishes in the background
	env.engine.Wait()
	exec, err := env.repo.GetExecution(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, int64(1), exec.CreditsUsed)
}

func TestExecuteWorkflow_UnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/workflows/nope/execute", "tenant-1", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteWorkflow_EmptyWorkflowRejected(t *testing.T) {
	env := newTestEnv(t)
	seedWorkflow(t, env, "tenant-1", nil)
	rec := env.do(http.MethodPost, "/api/v1/workflows/wf-1/execute", "tenant-1", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecuteWorkflow_NoTenant(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/workflows/wf-1/execute", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetExecution_TenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	exec := &models.Execution{TenantID: "tenant-1", WorkflowID: "wf-1", WorkflowVersionID: "v"}
	require.NoError(t, env.repo.CreateExecution(context.Background(), exec))

	rec := env.do(http.MethodGet, "/api/v1/executions/"+exec.ID, "tenant-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// another tenant sees 404, not 403
	rec = env.do(http.MethodGet, "/api/v1/executions/"+exec.ID, "tenant-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExecution_IncludesStepResults(t *testing.T) {
	env := newTestEnv(t)
	exec := &models.Execution{TenantID: "tenant-1", WorkflowID: "wf-1", WorkflowVersionID: "v"}
	require.NoError(t, env.repo.CreateExecution(context.Background(), exec))
	require.NoError(t, env.repo.RecordStepResult(context.Background(), &models.StepResult{
		ID: "sr-1", ExecutionID: exec.ID, StepID: "a", StepName: "only",
		Integration: models.IntegrationHTTP, Status: models.StepSucceeded, CreditsCharged: 2,
		StartedAt: time.Now().UTC(),
	}))

	rec := env.do(http.MethodGet, "/api/v1/executions/"+exec.ID, "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.StepSucceeded, got.Steps[0].Status)
}

func TestCancelExecution(t *testing.T) {
	env := newTestEnv(t)
	exec := &models.Execution{TenantID: "tenant-1", WorkflowID: "wf-1", WorkflowVersionID: "v"}
	require.NoError(t, env.repo.CreateExecution(context.Background(), exec))
	require.NoError(t, env.repo.MarkExecutionRunning(context.Background(), exec.ID))

	rec := env.do(http.MethodPost, "/api/v1/executions/"+exec.ID+"/cancel", "tenant-1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	requested, err := env.repo.IsCancelRequested(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	// a finished execution cannot be cancelled
	require.NoError(t, env.repo.FinishExecution(context.Background(), exec.ID, models.ExecutionCompleted, "", 0))
	rec = env.do(http.MethodPost, "/api/v1/executions/"+exec.ID+"/cancel", "tenant-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListWorkflowExecutions_StatusFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i, status := range []models.ExecutionStatus{models.ExecutionCompleted, models.ExecutionFailed} {
		exec := &models.Execution{
			ID: "exec-" + string(rune('a'+i)), TenantID: "tenant-1",
			WorkflowID: "wf-1", WorkflowVersionID: "v",
		}
		require.NoError(t, env.repo.CreateExecution(ctx, exec))
		require.NoError(t, env.repo.MarkExecutionRunning(ctx, exec.ID))
		require.NoError(t, env.repo.FinishExecution(ctx, exec.ID, status, "", 0))
	}

	rec := env.do(http.MethodGet, "/api/v1/workflows/wf-1/executions?status=failed", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*models.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, models.ExecutionFailed, got[0].Status)
}

func TestCreditEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/credits/purchase", "tenant-1",
		`{"amount":500,"description":"starter pack"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var tx models.CreditTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, models.TransactionPurchase, tx.Type)
	assert.Equal(t, int64(500), tx.BalanceAfter)

	rec = env.do(http.MethodGet, "/api/v1/credits/balance", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, int64(500), balance.Balance)

	rec = env.do(http.MethodGet, "/api/v1/credits/usage", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []*models.CreditTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	assert.Len(t, txs, 1)

	// amounts must be positive
	rec = env.do(http.MethodPost, "/api/v1/credits/purchase", "tenant-1", `{"amount":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// malformed timestamps are rejected
	rec = env.do(http.MethodGet, "/api/v1/credits/usage?from=yesterday", "tenant-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestIntegration(t *testing.T) {
	adapter := &fakeAdapter{
		kind:   models.IntegrationOpenAI,
		result: &integrations.Result{Payload: map[string]interface{}{"message": "ok"}},
	}
	env := newTestEnv(t, adapter)
	require.NoError(t, env.repo.UpsertIntegrationConfig(context.Background(), &models.IntegrationConfig{
		TenantID: "tenant-1", Provider: models.IntegrationOpenAI, Active: true,
	}))

	rec := env.do(http.MethodPost, "/api/v1/integrations/test", "tenant-1",
		`{"provider":"openai"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TestIntegrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)

	// unconfigured provider
	rec = env.do(http.MethodPost, "/api/v1/integrations/test", "tenant-2", `{"provider":"openai"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// unknown provider
	rec = env.do(http.MethodPost, "/api/v1/integrations/test", "tenant-1", `{"provider":"fax"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestIntegration_FailureReportedInBody(t *testing.T) {
	adapter := &fakeAdapter{
		kind: models.IntegrationOpenAI,
		err: &integrations.IntegrationError{
			Kind: integrations.ErrorAuthFailure, Retryable: false, Err: assert.AnError,
		},
	}
	env := newTestEnv(t, adapter)
	require.NoError(t, env.repo.UpsertIntegrationConfig(context.Background(), &models.IntegrationConfig{
		TenantID: "tenant-1", Provider: models.IntegrationOpenAI, Active: true,
	}))

	rec := env.do(http.MethodPost, "/api/v1/integrations/test", "tenant-1", `{"provider":"openai"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TestIntegrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, string(integrations.ErrorAuthFailure), resp.ErrorKind)
}

func TestPutWorkflow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/v1/workflows", "tenant-1",
		`{"name":"Audit","steps":[{"id":"a","integration":"http"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var wf models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	assert.NotEmpty(t, wf.WorkflowID)
	assert.Equal(t, "tenant-1", wf.TenantID)
	assert.Equal(t, 1, wf.Version)

	// steps must declare an id and integration
	rec = env.do(http.MethodPut, "/api/v1/workflows", "tenant-1",
		`{"name":"Bad","steps":[{"name":"no id"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWorkflows_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/v1/workflows", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}
