package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"agencyflow/backend/pkg/models"
)

// ListWorkflows returns the latest version of every workflow for the tenant
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	workflows, err := s.Repo.ListWorkflows(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// PutWorkflow creates a new workflow or a new immutable version of an
// existing one
// (PUT /api/v1/workflows)
func (s *Server) PutWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var workflow models.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	workflow.TenantID = tenant

	// If this is a new workflow concept (no WorkflowID), generate one.
	// If WorkflowID is present, the repo records a new version of it.
	if workflow.WorkflowID == "" {
		workflow.WorkflowID = uuid.New().String()
	}
	if workflow.Status == "" {
		workflow.Status = "active"
	}

	for _, step := range workflow.Steps {
		if step.ID == "" || step.Integration == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "every step requires an id and an integration type")
		}
	}

	if err := s.Repo.CreateWorkflow(ctx, &workflow); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save workflow: "+err.Error())
	}

	return c.JSON(http.StatusOK, workflow)
}
