package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"agencyflow/backend/internal/repository"
	"agencyflow/backend/pkg/models"
)

// ExecuteRequest is the body of POST /workflows/:id/execute.
type ExecuteRequest struct {
	Input map[string]interface{} `json:"input"`
}

// ExecuteResponse acknowledges a new execution.
type ExecuteResponse struct {
	ID     string                 `json:"id"`
	Status models.ExecutionStatus `json:"status"`
}

// ExecuteWorkflow creates an Execution against the latest workflow version
// and hands it to the engine.
// (POST /api/v1/workflows/:id/execute)
func (s *Server) ExecuteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	workflow, err := s.Repo.GetWorkflow(ctx, tenant, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if len(workflow.Steps) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "workflow has no steps")
	}

	execution := &models.Execution{
		TenantID:          tenant,
		WorkflowID:        workflow.WorkflowID,
		WorkflowVersionID: workflow.ID,
		Input:             req.Input,
	}
	if err := s.Repo.CreateExecution(ctx, execution); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create execution: "+err.Error())
	}

	s.Engine.Dispatch(execution.ID)

	return c.JSON(http.StatusAccepted, ExecuteResponse{ID: execution.ID, Status: execution.Status})
}

// ListWorkflowExecutions returns the execution history for a workflow.
// (GET /api/v1/workflows/:id/executions)
func (s *Server) ListWorkflowExecutions(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	filter := repository.ExecutionFilter{
		Status: models.ExecutionStatus(c.QueryParam("status")),
	}
	if v := c.QueryParam("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := c.QueryParam("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	executions, err := s.Repo.ListExecutions(ctx, tenant, c.Param("id"), filter)
	if err != nil {
		return httpError(err)
	}
	if executions == nil {
		executions = []*models.Execution{}
	}
	return c.JSON(http.StatusOK, executions)
}

// GetExecution returns full execution detail including per-step results.
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	execution, err := s.Repo.GetExecution(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	// executions are never visible cross-tenant
	if execution.TenantID != tenant {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	steps, err := s.Repo.ListStepResults(ctx, execution.ID)
	if err != nil {
		return httpError(err)
	}
	execution.Steps = make([]models.StepResult, 0, len(steps))
	for _, step := range steps {
		execution.Steps = append(execution.Steps, *step)
	}

	return c.JSON(http.StatusOK, execution)
}

// CancelExecution flags a running execution for cancellation; the engine
// observes the flag at the next step boundary.
// (POST /api/v1/executions/:id/cancel)
func (s *Server) CancelExecution(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	execution, err := s.Repo.GetExecution(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if execution.TenantID != tenant {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	if execution.Status.Terminal() {
		return echo.NewHTTPError(http.StatusConflict, "execution already finished")
	}

	if err := s.Repo.RequestCancel(ctx, execution.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}
