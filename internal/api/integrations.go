package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"agencyflow/backend/internal/integrations"
	"agencyflow/backend/internal/repository"
	"agencyflow/backend/pkg/models"
)

// TestIntegrationRequest is the body of POST /integrations/test.
type TestIntegrationRequest struct {
	Provider models.IntegrationType `json:"provider"`
	Params   map[string]interface{} `json:"params"`
}

// TestIntegrationResponse reports the dry-run outcome.
type TestIntegrationResponse struct {
	OK        bool                   `json:"ok"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// TestIntegration invokes an adapter in dry-run mode to validate a tenant's
// configuration. The ledger is never touched.
// (POST /api/v1/integrations/test)
func (s *Server) TestIntegration(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req TestIntegrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	adapter, err := s.Adapters.Lookup(req.Provider)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	config, err := s.Repo.GetIntegrationConfig(ctx, tenant, req.Provider)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "integration is not configured for this tenant")
	}
	if err != nil {
		return httpError(err)
	}

	result, err := adapter.Invoke(ctx, integrations.Request{
		Params: req.Params,
		Config: config,
		DryRun: true,
	})
	if err != nil {
		ie := integrations.AsIntegrationError(err)
		return c.JSON(http.StatusOK, TestIntegrationResponse{
			OK:        false,
			ErrorKind: string(ie.Kind),
			Error:     ie.Err.Error(),
		})
	}

	return c.JSON(http.StatusOK, TestIntegrationResponse{OK: true, Payload: result.Payload})
}
