package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/models"
)

const ledgerColumns = `id, account_id, kind, amount, frozen_delta, balance_before, balance_after,
	external_reference, reference_id, reference_type, description, created_at`

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.FrozenDelta, &e.BalanceBefore, &e.BalanceAfter,
		&e.ExternalReference, &e.ReferenceID, &e.ReferenceType, &e.Description, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTx appends a ledger entry inside the given transaction. The
// unique index on external_reference is the storage-level idempotency
// guard for payment ingestion.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, frozen_delta, balance_before, balance_after, external_reference, reference_id, reference_type, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Kind, e.Amount, e.FrozenDelta, e.BalanceBefore, e.BalanceAfter, e.ExternalReference, e.ReferenceID, e.ReferenceType, e.Description).Scan(&e.CreatedAt)
}

func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id))
}

// GetByExternalReference looks up the entry recorded for a provider
// charge id, or pgx.ErrNoRows when the payment has not been seen.
func (r *LedgerRepo) GetByExternalReference(ctx context.Context, ref string) (*models.LedgerEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE external_reference = $1 AND kind = $2
	`, ref, models.EntryDeposit))
}

// GetByExternalReferenceTx is GetByExternalReference inside a transaction.
func (r *LedgerRepo) GetByExternalReferenceTx(ctx context.Context, tx pgx.Tx, ref string) (*models.LedgerEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE external_reference = $1 AND kind = $2
	`, ref, models.EntryDeposit))
}

func (r *LedgerRepo) ListByAccountID(ctx context.Context, accountID int64, limit, offset int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// SumAmounts returns the signed sum of all entry amounts for an account.
// Reconciliation: the result must equal the account's current balance.
func (r *LedgerRepo) SumAmounts(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&total)
	return total, err
}
