package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"agencyflow/backend/pkg/models"
)

// BalanceResponse reports a tenant's current credit balance.
type BalanceResponse struct {
	TenantID string `json:"tenant_id"`
	Balance  int64  `json:"balance"`
}

// CreditBalance returns the tenant's current balance.
// (GET /api/v1/credits/balance)
func (s *Server) CreditBalance(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	balance, err := s.Ledger.Balance(ctx, tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, BalanceResponse{TenantID: tenant, Balance: balance})
}

// CreditUsage returns the tenant's transaction log for a time range,
// defaulting to the last 30 days. Reporting only; no mutation.
// (GET /api/v1/credits/usage)
func (s *Server) CreditUsage(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.QueryParam("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp: "+err.Error())
		}
		from = parsed
	}
	if v := c.QueryParam("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp: "+err.Error())
		}
		to = parsed
	}

	transactions, err := s.Ledger.Transactions(ctx, tenant, from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if transactions == nil {
		transactions = []*models.CreditTransaction{}
	}
	return c.JSON(http.StatusOK, transactions)
}

// PurchaseRequest is the body of POST /credits/purchase.
type PurchaseRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// PurchaseCredits adds credits to the tenant's balance. Payment settlement
// happens upstream; this only records the ledger entry.
// (POST /api/v1/credits/purchase)
func (s *Server) PurchaseCredits(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req PurchaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}

	transaction, err := s.Ledger.Deposit(ctx, tenant, req.Amount, models.TransactionPurchase, req.Description)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, transaction)
}
