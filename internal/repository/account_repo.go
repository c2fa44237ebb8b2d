package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prgram/backend/internal/models"
)

const accountColumns = `id, username, first_name, last_name, language_code,
	balance, frozen_balance, tier, is_premium, premium_until, is_banned, ban_reason,
	referrer_id, total_referrals, premium_referrals, referral_earnings,
	tasks_completed, tasks_created, total_earned, total_spent, total_deposited,
	daily_tasks_completed, daily_tasks_created, last_task_date, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.Username, &a.FirstName, &a.LastName, &a.LanguageCode,
		&a.Balance, &a.FrozenBalance, &a.Tier, &a.IsPremium, &a.PremiumUntil, &a.IsBanned, &a.BanReason,
		&a.ReferrerID, &a.TotalReferrals, &a.PremiumReferrals, &a.ReferralEarnings,
		&a.TasksCompleted, &a.TasksCreated, &a.TotalEarned, &a.TotalSpent, &a.TotalDeposited,
		&a.DailyTasksCompleted, &a.DailyTasksCreated, &a.LastTaskDate, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, username, first_name, last_name, language_code, balance, frozen_balance, tier, referrer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.Username, a.FirstName, a.LastName, a.LanguageCode, a.Balance, a.FrozenBalance, a.Tier, a.ReferrerID).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetByIDForUpdate locks the account row for the duration of the
// transaction. All balance mutations go through this lock so that
// credit/debit/freeze/unfreeze on one account are linearizable.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

// UpdateBalances writes the financial and statistics fields mutated by
// ledger operations. Call after GetByIDForUpdate in the same transaction.
func (r *AccountRepo) UpdateBalances(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET
			balance = $2, frozen_balance = $3, tier = $4,
			referral_earnings = $5, total_referrals = $6, premium_referrals = $7,
			tasks_completed = $8, tasks_created = $9,
			total_earned = $10, total_spent = $11, total_deposited = $12,
			daily_tasks_completed = $13, daily_tasks_created = $14, last_task_date = $15,
			updated_at = now()
		WHERE id = $1
	`, a.ID, a.Balance, a.FrozenBalance, a.Tier,
		a.ReferralEarnings, a.TotalReferrals, a.PremiumReferrals,
		a.TasksCompleted, a.TasksCreated,
		a.TotalEarned, a.TotalSpent, a.TotalDeposited,
		a.DailyTasksCompleted, a.DailyTasksCreated, a.LastTaskDate)
	return err
}

// UpdateProfile refreshes the Telegram profile fields if they changed.
func (r *AccountRepo) UpdateProfile(ctx context.Context, a *models.Account) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET username = $2, first_name = $3, last_name = $4, updated_at = now()
		WHERE id = $1
	`, a.ID, a.Username, a.FirstName, a.LastName)
	return err
}

// SetBanned flips the ban flag. Banned accounts keep their balance but
// are refused by the engines.
func (r *AccountRepo) SetBanned(ctx context.Context, id int64, banned bool, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET is_banned = $2, ban_reason = $3, updated_at = now() WHERE id = $1
	`, id, banned, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListReferrals returns accounts referred by the given user, newest first.
func (r *AccountRepo) ListReferrals(ctx context.Context, referrerID int64, limit int) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE referrer_id = $1 ORDER BY created_at DESC LIMIT $2
	`, referrerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// ErrNoRows re-exported so callers don't import pgx for the sentinel.
var ErrNoRows = pgx.ErrNoRows

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
