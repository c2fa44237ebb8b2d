package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prgram/backend/internal/models"
)

const checkColumns = `id, creator_id, type, status, code,
	total_amount, amount_per_activation, remaining_amount,
	max_activations, current_activations, max_per_user,
	comment, password_hash, min_tier,
	expires_at, created_at, updated_at`

type CheckRepo struct {
	pool *pgxpool.Pool
}

func NewCheckRepo(pool *pgxpool.Pool) *CheckRepo {
	return &CheckRepo{pool: pool}
}

func scanCheck(row pgx.Row) (*models.Check, error) {
	var c models.Check
	err := row.Scan(
		&c.ID, &c.CreatorID, &c.Type, &c.Status, &c.Code,
		&c.TotalAmount, &c.AmountPerActivation, &c.RemainingAmount,
		&c.MaxActivations, &c.CurrentActivations, &c.MaxPerUser,
		&c.Comment, &c.PasswordHash, &c.MinTier,
		&c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Check) error {
	return tx.QueryRow(ctx, `
		INSERT INTO checks (id, creator_id, type, status, code, total_amount, amount_per_activation, remaining_amount, max_activations, current_activations, max_per_user, comment, password_hash, min_tier, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`, c.ID, c.CreatorID, c.Type, c.Status, c.Code,
		c.TotalAmount, c.AmountPerActivation, c.RemainingAmount,
		c.MaxActivations, c.CurrentActivations, c.MaxPerUser,
		c.Comment, c.PasswordHash, c.MinTier, c.ExpiresAt).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *CheckRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Check, error) {
	return scanCheck(r.pool.QueryRow(ctx, `SELECT `+checkColumns+` FROM checks WHERE id = $1`, id))
}

func (r *CheckRepo) GetByCode(ctx context.Context, code string) (*models.Check, error) {
	return scanCheck(r.pool.QueryRow(ctx, `SELECT `+checkColumns+` FROM checks WHERE code = $1`, code))
}

// GetByCodeForUpdate locks the check row; all activations of one check
// serialize on this lock.
func (r *CheckRepo) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.Check, error) {
	return scanCheck(tx.QueryRow(ctx, `SELECT `+checkColumns+` FROM checks WHERE code = $1 FOR UPDATE`, code))
}

func (r *CheckRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Check, error) {
	return scanCheck(tx.QueryRow(ctx, `SELECT `+checkColumns+` FROM checks WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTx persists the mutable state of a locked check row.
func (r *CheckRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Check) error {
	tag, err := tx.Exec(ctx, `
		UPDATE checks
		SET status = $2, remaining_amount = $3, current_activations = $4, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Status, c.RemainingAmount, c.CurrentActivations)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *CheckRepo) InsertActivationTx(ctx context.Context, tx pgx.Tx, a *models.CheckActivation) error {
	return tx.QueryRow(ctx, `
		INSERT INTO check_activations (id, check_id, user_id, amount_received)
		VALUES ($1, $2, $3, $4)
		RETURNING activated_at
	`, a.ID, a.CheckID, a.UserID, a.AmountReceived).Scan(&a.ActivatedAt)
}

// CountActivationsByUser returns how many times the user has already
// activated the check. Read under the check row lock.
func (r *CheckRepo) CountActivationsByUser(ctx context.Context, tx pgx.Tx, checkID uuid.UUID, userID int64) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM check_activations WHERE check_id = $1 AND user_id = $2
	`, checkID, userID).Scan(&n)
	return n, err
}

func (r *CheckRepo) ListByCreator(ctx context.Context, creatorID int64, limit, offset int) ([]*models.Check, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+checkColumns+` FROM checks
		WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, creatorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (r *CheckRepo) ListActivations(ctx context.Context, checkID uuid.UUID) ([]*models.CheckActivation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, check_id, user_id, amount_received, activated_at
		FROM check_activations WHERE check_id = $1 ORDER BY activated_at
	`, checkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CheckActivation
	for rows.Next() {
		var a models.CheckActivation
		if err := rows.Scan(&a.ID, &a.CheckID, &a.UserID, &a.AmountReceived, &a.ActivatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// ListExpiredActive returns ids of active checks whose deadline has
// passed, for the expiry sweep.
func (r *CheckRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM checks
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at LIMIT $3
	`, models.CheckStatusActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
