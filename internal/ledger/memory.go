package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"agencyflow/backend/pkg/models"
)

type account struct {
	balance      int64
	transactions []*models.CreditTransaction
}

// MemoryLedger is a thread-safe in-memory Ledger used by tests and dev mode.
type MemoryLedger struct {
	mu           sync.Mutex
	accounts     map[string]*account
	reservations map[string]*Reservation
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:     make(map[string]*account),
		reservations: make(map[string]*Reservation),
	}
}

func (l *MemoryLedger) getAccount(tenantID string) *account {
	a, ok := l.accounts[tenantID]
	if !ok {
		a = &account{}
		l.accounts[tenantID] = a
	}
	return a
}

// openHeld sums the open reservations for a tenant. Caller must hold l.mu.
func (l *MemoryLedger) openHeld(tenantID string) int64 {
	var held int64
	for _, r := range l.reservations {
		if r.TenantID == tenantID && r.State == ReservationOpen {
			held += r.Amount
		}
	}
	return held
}

func (l *MemoryLedger) Reserve(ctx context.Context, tenantID string, amount int64) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.getAccount(tenantID)
	if a.balance-l.openHeld(tenantID) < amount {
		return nil, ErrInsufficientCredit
	}

	r := &Reservation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Amount:    amount,
		State:     ReservationOpen,
		CreatedAt: time.Now().UTC(),
	}
	l.reservations[r.ID] = r
	return r, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, reservationID string, actual int64, ref Ref) error {
	if actual < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	if r.State != ReservationOpen {
		return ErrReservationClosed
	}
	if actual > r.Amount {
		return ErrCommitExceedsReservation
	}

	r.State = ReservationCommitted

	a := l.getAccount(r.TenantID)
	a.balance -= actual

	tx := &models.CreditTransaction{
		ID:           uuid.New().String(),
		TenantID:     r.TenantID,
		Type:         models.TransactionUsage,
		Amount:       -actual,
		BalanceAfter: a.balance,
		Description:  ref.Description,
		CreatedAt:    time.Now().UTC(),
	}
	if ref.ExecutionID != "" {
		id := ref.ExecutionID
		tx.ExecutionID = &id
	}
	if ref.StepResultID != "" {
		id := ref.StepResultID
		tx.StepResultID = &id
	}
	a.transactions = append(a.transactions, tx)
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return ErrReservationNotFound
	}
	switch r.State {
	case ReservationReleased:
		return nil // already released, no-op
	case ReservationCommitted:
		return ErrReservationClosed
	}
	r.State = ReservationReleased
	return nil
}

func (l *MemoryLedger) Deposit(ctx context.Context, tenantID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.getAccount(tenantID)
	a.balance += amount
	tx := &models.CreditTransaction{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: a.balance,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	a.transactions = append(a.transactions, tx)
	return tx, nil
}

func (l *MemoryLedger) Balance(ctx context.Context, tenantID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getAccount(tenantID).balance, nil
}

func (l *MemoryLedger) Transactions(ctx context.Context, tenantID string, from, to time.Time) ([]*models.CreditTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.CreditTransaction
	for _, tx := range l.getAccount(tenantID).transactions {
		if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}
