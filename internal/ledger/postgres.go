package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agencyflow/backend/pkg/models"
)

// PostgresLedger is a PostgreSQL implementation of the Ledger interface.
// Per-tenant serialization comes from row-level locks on the balance row:
// every balance-affecting operation runs inside one transaction that locks
// the tenant's credit_balances row, so unrelated tenants never contend.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgresLedger.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS credit_balances (
	tenant_id TEXT PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS credit_reservations (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	amount BIGINT NOT NULL,
	state TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_credit_reservations_open
	ON credit_reservations(tenant_id) WHERE state = 'open';
CREATE TABLE IF NOT EXISTS credit_transactions (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	execution_id TEXT,
	step_result_id TEXT,
	type TEXT NOT NULL,
	amount BIGINT NOT NULL,
	balance_after BIGINT NOT NULL,
	description TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_tenant_time
	ON credit_transactions(tenant_id, created_at);
`

// Init creates the necessary database tables.
func (l *PostgresLedger) Init(ctx context.Context) error {
	_, err := l.db.Exec(ctx, schema)
	return err
}

// lockBalance ensures the tenant's balance row exists and locks it for the
// duration of the transaction.
func (l *PostgresLedger) lockBalance(ctx context.Context, tx pgx.Tx, tenantID string) (int64, error) {
	_, err := tx.Exec(ctx,
		"INSERT INTO credit_balances (tenant_id, balance) VALUES ($1, 0) ON CONFLICT (tenant_id) DO NOTHING",
		tenantID)
	if err != nil {
		return 0, fmt.Errorf("ledger: failed to ensure balance row: %w", err)
	}
	var balance int64
	err = tx.QueryRow(ctx,
		"SELECT balance FROM credit_balances WHERE tenant_id = $1 FOR UPDATE",
		tenantID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("ledger: failed to lock balance: %w", err)
	}
	return balance, nil
}

func (l *PostgresLedger) Reserve(ctx context.Context, tenantID string, amount int64) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, err := l.lockBalance(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	var held int64
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM credit_reservations WHERE tenant_id = $1 AND state = 'open'",
		tenantID).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to sum open reservations: %w", err)
	}

	if balance-held < amount {
		return nil, ErrInsufficientCredit
	}

	r := &Reservation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Amount:    amount,
		State:     ReservationOpen,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO credit_reservations (id, tenant_id, amount, state, created_at) VALUES ($1, $2, $3, $4, $5)",
		r.ID, r.TenantID, r.Amount, r.State, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger: failed to commit reservation: %w", err)
	}
	return r, nil
}

func (l *PostgresLedger) Commit(ctx context.Context, reservationID string, actual int64, ref Ref) error {
	if actual < 0 {
		return ErrInvalidAmount
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tenantID string
	var reserved int64
	var state ReservationState
	err = tx.QueryRow(ctx,
		"SELECT tenant_id, amount, state FROM credit_reservations WHERE id = $1 FOR UPDATE",
		reservationID).Scan(&tenantID, &reserved, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("ledger: failed to load reservation: %w", err)
	}
	if state != ReservationOpen {
		return ErrReservationClosed
	}
	if actual > reserved {
		return ErrCommitExceedsReservation
	}

	balance, err := l.lockBalance(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	newBalance := balance - actual

	_, err = tx.Exec(ctx,
		"UPDATE credit_reservations SET state = $1 WHERE id = $2",
		ReservationCommitted, reservationID)
	if err != nil {
		return fmt.Errorf("ledger: failed to close reservation: %w", err)
	}
	_, err = tx.Exec(ctx,
		"UPDATE credit_balances SET balance = $1 WHERE tenant_id = $2",
		newBalance, tenantID)
	if err != nil {
		return fmt.Errorf("ledger: failed to update balance: %w", err)
	}

	var execID, stepID *string
	if ref.ExecutionID != "" {
		execID = &ref.ExecutionID
	}
	if ref.StepResultID != "" {
		stepID = &ref.StepResultID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, tenant_id, execution_id, step_result_id, type, amount, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(), tenantID, execID, stepID,
		models.TransactionUsage, -actual, newBalance, ref.Description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ledger: failed to record transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: failed to commit charge: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var state ReservationState
	err = tx.QueryRow(ctx,
		"SELECT state FROM credit_reservations WHERE id = $1 FOR UPDATE",
		reservationID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("ledger: failed to load reservation: %w", err)
	}
	switch state {
	case ReservationReleased:
		return nil
	case ReservationCommitted:
		return ErrReservationClosed
	}

	_, err = tx.Exec(ctx,
		"UPDATE credit_reservations SET state = $1 WHERE id = $2",
		ReservationReleased, reservationID)
	if err != nil {
		return fmt.Errorf("ledger: failed to release reservation: %w", err)
	}
	return tx.Commit(ctx)
}

func (l *PostgresLedger) Deposit(ctx context.Context, tenantID string, amount int64, txType models.TransactionType, description string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, err := l.lockBalance(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	newBalance := balance + amount

	_, err = tx.Exec(ctx,
		"UPDATE credit_balances SET balance = $1 WHERE tenant_id = $2",
		newBalance, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to update balance: %w", err)
	}

	record := &models.CreditTransaction{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, tenant_id, type, amount, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.TenantID, record.Type, record.Amount, record.BalanceAfter, record.Description, record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to record transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger: failed to commit deposit: %w", err)
	}
	return record, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx,
		"SELECT balance FROM credit_balances WHERE tenant_id = $1",
		tenantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: failed to read balance: %w", err)
	}
	return balance, nil
}

func (l *PostgresLedger) Transactions(ctx context.Context, tenantID string, from, to time.Time) ([]*models.CreditTransaction, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, tenant_id, execution_id, step_result_id, type, amount, balance_after, description, created_at
		FROM credit_transactions
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`,
		tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditTransaction
	for rows.Next() {
		var record models.CreditTransaction
		err := rows.Scan(&record.ID, &record.TenantID, &record.ExecutionID, &record.StepResultID,
			&record.Type, &record.Amount, &record.BalanceAfter, &record.Description, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to scan transaction: %w", err)
		}
		out = append(out, &record)
	}
	return out, rows.Err()
}
