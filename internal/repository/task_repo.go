package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prgram/backend/internal/models"
)

const taskColumns = `id, author_id, type, title, description, target_url, status,
	reward_amount, commission_amount, total_budget, spent_budget,
	target_executions, completed_executions, min_tier, auto_check,
	expires_at, completed_at, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID, &t.AuthorID, &t.Type, &t.Title, &t.Description, &t.TargetURL, &t.Status,
		&t.RewardAmount, &t.CommissionAmount, &t.TotalBudget, &t.SpentBudget,
		&t.TargetExecutions, &t.CompletedExecutions, &t.MinTier, &t.AutoCheck,
		&t.ExpiresAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, author_id, type, title, description, target_url, status, reward_amount, commission_amount, total_budget, spent_budget, target_executions, min_tier, auto_check, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`, t.ID, t.AuthorID, t.Type, t.Title, t.Description, t.TargetURL, t.Status,
		t.RewardAmount, t.CommissionAmount, t.TotalBudget, t.SpentBudget,
		t.TargetExecutions, t.MinTier, t.AutoCheck, t.ExpiresAt).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetByIDForUpdate locks the task row for the duration of the transaction.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTx persists the mutable state of a locked task row.
func (r *TaskRepo) UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks
		SET status = $2, spent_budget = $3, completed_executions = $4, completed_at = $5, updated_at = NOW()
		WHERE id = $1
	`, t.ID, t.Status, t.SpentBudget, t.CompletedExecutions, t.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *TaskRepo) ListByAuthor(ctx context.Context, authorID int64, limit, offset int) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE author_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, authorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListAvailable returns active tasks an executor could take: not their
// own, not exhausted, not expired, and within their tier.
func (r *TaskRepo) ListAvailable(ctx context.Context, userID int64, limit int) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1
		  AND author_id <> $2
		  AND completed_executions < target_executions
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC LIMIT $3
	`, models.TaskStatusActive, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListExpiredActive returns ids of active or paused tasks whose deadline
// has passed, for the expiry sweep.
func (r *TaskRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM tasks
		WHERE status IN ($1, $2) AND expires_at IS NOT NULL AND expires_at <= $3
		ORDER BY expires_at LIMIT $4
	`, models.TaskStatusActive, models.TaskStatusPaused, now, limit)
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

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
