package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prgram/backend/internal/models"
)

const executionColumns = `id, task_id, user_id, status, reward_amount,
	reviewer_id, review_comment, auto_checked,
	created_at, completed_at, reviewed_at, expires_at`

type ExecutionRepo struct {
	pool *pgxpool.Pool
}

func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

func scanExecution(row pgx.Row) (*models.TaskExecution, error) {
	var e models.TaskExecution
	err := row.Scan(
		&e.ID, &e.TaskID, &e.UserID, &e.Status, &e.RewardAmount,
		&e.ReviewerID, &e.ReviewComment, &e.AutoChecked,
		&e.CreatedAt, &e.CompletedAt, &e.ReviewedAt, &e.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTx inserts an execution. A partial unique index on
// (task_id, user_id) WHERE status = 'pending' makes a second concurrent
// start fail with a unique violation.
func (r *ExecutionRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.TaskExecution) error {
	return tx.QueryRow(ctx, `
		INSERT INTO task_executions (id, task_id, user_id, status, reward_amount, auto_checked, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.TaskID, e.UserID, e.Status, e.RewardAmount, e.AutoChecked, e.ExpiresAt).Scan(&e.CreatedAt)
}

func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.TaskExecution, error) {
	return scanExecution(r.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM task_executions WHERE id = $1`, id))
}

// GetByIDForUpdate locks the execution row for the duration of the
// transaction.
func (r *ExecutionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.TaskExecution, error) {
	return scanExecution(tx.QueryRow(ctx, `SELECT `+executionColumns+` FROM task_executions WHERE id = $1 FOR UPDATE`, id))
}

// Transition moves a pending execution to a terminal status. The WHERE
// guard on the current status makes the review at-most-once: a second
// reviewer sees zero rows affected.
func (r *ExecutionRepo) Transition(ctx context.Context, tx pgx.Tx, e *models.TaskExecution, from string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE task_executions
		SET status = $3, reward_amount = $4, reviewer_id = $5, review_comment = $6,
		    auto_checked = $7, completed_at = $8, reviewed_at = $9
		WHERE id = $1 AND status = $2
	`, e.ID, from, e.Status, e.RewardAmount, e.ReviewerID, e.ReviewComment,
		e.AutoChecked, e.CompletedAt, e.ReviewedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClosePendingByTask moves every pending execution of a task to the
// given terminal status. Used when the task itself is cancelled or
// expires.
func (r *ExecutionRepo) ClosePendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, status string, at time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE task_executions SET status = $3, reviewed_at = $4
		WHERE task_id = $1 AND status = $2
	`, taskID, models.ExecutionStatusPending, status, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountActive returns the number of pending executions a user currently
// holds across all tasks.
func (r *ExecutionRepo) CountActive(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM task_executions WHERE user_id = $1 AND status = $2
	`, userID, models.ExecutionStatusPending).Scan(&n)
	return n, err
}

// HasNonRejected reports whether the user already has an execution on
// the task in any state other than rejected or expired. Rejections and
// timeouts allow a retry.
func (r *ExecutionRepo) HasNonRejected(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, userID int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM task_executions
			WHERE task_id = $1 AND user_id = $2 AND status NOT IN ($3, $4)
		)
	`, taskID, userID, models.ExecutionStatusRejected, models.ExecutionStatusExpired).Scan(&exists)
	return exists, err
}

func (r *ExecutionRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.TaskExecution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM task_executions
		WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (r *ExecutionRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.TaskExecution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM task_executions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ListExpiredPending returns ids of pending executions whose deadline
// has passed, for the expiry sweep.
func (r *ExecutionRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM task_executions
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at LIMIT $3
	`, models.ExecutionStatusPending, now, limit)
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

func collectExecutions(rows pgx.Rows) ([]*models.TaskExecution, error) {
	var list []*models.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
