package models

import (
	"time"
)

// TransactionType classifies a credit ledger entry.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
)

// CreditTransaction is a signed delta against a tenant's balance. Usage
// entries are negative; the ledger is append-only and the tenant's balance
// is the sum of all entries.
type CreditTransaction struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	ExecutionID  *string         `json:"execution_id,omitempty"`
	StepResultID *string         `json:"step_result_id,omitempty"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
