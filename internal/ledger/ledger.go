// Package ledger provides the per-tenant credit accounting for workflow
// execution. Credits are held in a reservation before a step runs and the
// hold is committed at the actual cost afterwards, so concurrent executions
// can never overdraw a balance.
package ledger

import (
	"context"
	"errors"
	"time"

	"agencyflow/backend/pkg/models"
)

var (
	// ErrInsufficientCredit is returned when the available balance cannot
	// cover a reservation. It is an expected outcome, not a defect.
	ErrInsufficientCredit = errors.New("ledger: insufficient credit")
	// ErrReservationNotFound is returned for an unknown reservation id.
	ErrReservationNotFound = errors.New("ledger: reservation not found")
	// ErrReservationClosed is returned when committing a reservation that
	// was already committed or released.
	ErrReservationClosed = errors.New("ledger: reservation already closed")
	// ErrCommitExceedsReservation is returned when the actual cost is
	// larger than the reserved ceiling.
	ErrCommitExceedsReservation = errors.New("ledger: commit exceeds reserved amount")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// ReservationState tracks the lifecycle of a credit hold.
type ReservationState string

const (
	ReservationOpen      ReservationState = "open"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Reservation is a provisional hold against a tenant balance. Open
// reservations reduce the available balance but do not yet appear in the
// transaction log.
type Reservation struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	Amount    int64            `json:"amount"`
	State     ReservationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
}

// Ref links a committed charge back to the execution and step that caused it.
type Ref struct {
	ExecutionID  string
	StepResultID string
	Description  string
}

// Ledger is the atomic credit accounting boundary. Implementations must
// serialize the check-then-debit sequence per tenant: two reservations for
// the same tenant never both succeed if their combined amount exceeds the
// available balance.
type Ledger interface {
	// Reserve places a provisional hold. Returns ErrInsufficientCredit
	// when balance minus open holds cannot cover the amount.
	Reserve(ctx context.Context, tenantID string, amount int64) (*Reservation, error)
	// Commit closes an open reservation at the actual cost, which must not
	// exceed the reserved amount, and appends a usage transaction.
	Commit(ctx context.Context, reservationID string, actual int64, ref Ref) error
	// Release drops an open reservation without charging. Releasing an
	// already-released reservation is a no-op.
	Release(ctx context.Context, reservationID string) error
	// Deposit adds credits (top-up or refund) and appends a transaction.
	Deposit(ctx context.Context, tenantID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error)
	// Balance returns the tenant's committed balance. Open reservations
	// are not deducted here; they only gate new reservations.
	Balance(ctx context.Context, tenantID string) (int64, error)
	// Transactions returns the tenant's ledger entries within [from, to),
	// oldest first.
	Transactions(ctx context.Context, tenantID string, from, to time.Time) ([]*models.CreditTransaction, error)
}
