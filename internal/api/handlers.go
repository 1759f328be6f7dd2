// Package api contains the HTTP handlers for the workflow service
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"agencyflow/backend/internal/engine"
	"agencyflow/backend/internal/integrations"
	"agencyflow/backend/internal/ledger"
	"agencyflow/backend/internal/repository"
)

// Server holds the dependencies for the API server.
type Server struct {
	Repo     repository.Repository
	Ledger   ledger.Ledger
	Adapters *integrations.Registry
	Engine   *engine.Engine
}

// NewServer creates a new Server.
func NewServer(repo repository.Repository, credits ledger.Ledger, adapters *integrations.Registry, eng *engine.Engine) *Server {
	return &Server{Repo: repo, Ledger: credits, Adapters: adapters, Engine: eng}
}

// Register mounts all routes on the given group.
func (s *Server) Register(g *echo.Group) {
	g.GET("/workflows", s.ListWorkflows)
	g.PUT("/workflows", s.PutWorkflow)
	g.POST("/workflows/:id/execute", s.ExecuteWorkflow)
	g.GET("/workflows/:id/executions", s.ListWorkflowExecutions)
	g.GET("/executions/:id", s.GetExecution)
	g.POST("/executions/:id/cancel", s.CancelExecution)
	g.GET("/credits/balance", s.CreditBalance)
	g.GET("/credits/usage", s.CreditUsage)
	g.POST("/credits/purchase", s.PurchaseCredits)
	g.POST("/integrations/test", s.TestIntegration)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "agencyflow",
		Version:   "1.0.0",
	})
}

// tenantID extracts the authenticated tenant from the request context.
func tenantID(c echo.Context) (string, error) {
	id, ok := c.Request().Context().Value("tenant_id").(string)
	if !ok || id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Tenant ID not found in context")
	}
	return id, nil
}

// httpError maps repository errors onto HTTP statuses.
func httpError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
