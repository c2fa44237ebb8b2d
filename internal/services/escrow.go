package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/clock"
	"github.com/prgram/backend/internal/metrics"
	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/repository"
	"github.com/prgram/backend/internal/tiers"
)

// MinTaskReward is the lowest reward a task may offer per execution.
var MinTaskReward = decimal.RequireFromString("50")

// executionTTL bounds how long a started execution may stay pending.
const executionTTL = 30 * time.Minute

// EscrowTaskRepo is the minimal task repository interface for the engine.
type EscrowTaskRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// EscrowExecutionRepo is the minimal execution repository interface for
// the engine.
type EscrowExecutionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.TaskExecution) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.TaskExecution, error)
	Transition(ctx context.Context, tx pgx.Tx, e *models.TaskExecution, from string) (bool, error)
	HasNonRejected(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, userID int64) (bool, error)
	ClosePendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, status string, at time.Time) (int64, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// RewardHook runs after a task reward credit has committed. Referral
// commissions hang off this; failures must not affect the reward.
type RewardHook interface {
	TaskRewardCredited(ctx context.Context, userID int64, amount decimal.Decimal)
}

// EscrowEngine drives the task lifecycle and its budget escrow. The
// full budget is frozen on the author when a task goes active; approvals
// unfreeze the author's share and credit the executor; whatever is left
// when the task closes is unfrozen back to the author.
type EscrowEngine struct {
	db         repository.TxRunner
	ledger     *AccountService
	tasks      EscrowTaskRepo
	executions EscrowExecutionRepo
	clock      clock.Clock
	logger     *slog.Logger
	hooks      []RewardHook
}

func NewEscrowEngine(db repository.TxRunner, ledger *AccountService, tasks EscrowTaskRepo, executions EscrowExecutionRepo, clk clock.Clock, logger *slog.Logger) *EscrowEngine {
	return &EscrowEngine{db: db, ledger: ledger, tasks: tasks, executions: executions, clock: clk, logger: logger}
}

// AddRewardHook registers a post-commit hook. Not safe to call after
// the engine started serving requests.
func (s *EscrowEngine) AddRewardHook(h RewardHook) { s.hooks = append(s.hooks, h) }

// CreateTaskParams describes a new task order.
type CreateTaskParams struct {
	AuthorID         int64
	Type             string
	Title            string
	Description      string
	TargetURL        string
	Reward           decimal.Decimal
	TargetExecutions int
	MinTier          *tiers.Tier
	AutoCheck        bool
	ExpiresAt        *time.Time
}

// CreateTask freezes the full budget on the author and persists the
// task as Active. Budget = reward x target x (1 + commission rate of
// the author's tier); nothing is persisted when the freeze fails.
func (s *EscrowEngine) CreateTask(ctx context.Context, p CreateTaskParams) (*models.Task, error) {
	if p.TargetExecutions < 1 {
		return nil, fmt.Errorf("target executions %d: %w", p.TargetExecutions, ErrInvalidAmount)
	}
	var task *models.Task
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		author, err := s.ledger.LockAccount(ctx, tx, p.AuthorID)
		if err != nil {
			return err
		}
		if author.IsBanned {
			return fmt.Errorf("account %d: %w", author.ID, ErrAccountBanned)
		}
		now := s.clock.Now()
		cfg := s.ledger.Tiers().Get(author.Tier)
		if p.Reward.LessThan(MinTaskReward) {
			return fmt.Errorf("reward %s below minimum %s: %w", p.Reward, MinTaskReward, ErrInvalidAmount)
		}
		if p.Reward.GreaterThan(cfg.MaxTaskReward) {
			return fmt.Errorf("reward %s above tier limit %s: %w", p.Reward, cfg.MaxTaskReward, ErrInvalidAmount)
		}
		if cfg.DailyTaskLimit >= 0 && author.DailyCreatedOn(now) >= cfg.DailyTaskLimit {
			return fmt.Errorf("daily task limit %d reached: %w", cfg.DailyTaskLimit, ErrInvalidState)
		}

		target := decimal.NewFromInt(int64(p.TargetExecutions))
		gross := p.Reward.Mul(target)
		commission := gross.Mul(cfg.CommissionRate).RoundBank(2)
		budget := gross.Add(commission)

		task = &models.Task{
			ID:               uuid.New(),
			AuthorID:         p.AuthorID,
			Type:             p.Type,
			Title:            p.Title,
			Description:      p.Description,
			TargetURL:        p.TargetURL,
			Status:           models.TaskStatusActive,
			RewardAmount:     p.Reward,
			CommissionAmount: commission,
			TotalBudget:      budget,
			SpentBudget:      decimal.Zero,
			TargetExecutions: p.TargetExecutions,
			AutoCheck:        p.AutoCheck,
			ExpiresAt:        p.ExpiresAt,
		}
		task.MinTier = p.MinTier

		author.RollDailyCounters(now)
		author.DailyTasksCreated++
		author.TasksCreated++
		if _, err := s.ledger.FreezeLocked(ctx, tx, author, budget, models.EntryTaskCreationEscrow, TaskRef(task.ID), "task budget escrow"); err != nil {
			return err
		}
		return s.tasks.CreateTx(ctx, tx, task)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task created", "task_id", task.ID, "author_id", task.AuthorID, "budget", task.TotalBudget)
	return task, nil
}

// StartExecution opens a pending execution for the user. The partial
// unique index on (task_id, user_id) pending rows backstops the
// duplicate check under concurrency.
func (s *EscrowEngine) StartExecution(ctx context.Context, taskID uuid.UUID, userID int64) (*models.TaskExecution, error) {
	var exec *models.TaskExecution
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
			}
			return err
		}
		if task.AuthorID == userID {
			return fmt.Errorf("author cannot execute own task: %w", ErrInvalidState)
		}
		now := s.clock.Now()
		if !task.AcceptsExecutions(now) {
			return fmt.Errorf("task %s is not accepting executions: %w", taskID, ErrInvalidState)
		}
		user, err := s.ledger.LockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.IsBanned {
			return fmt.Errorf("account %d: %w", userID, ErrAccountBanned)
		}
		if task.MinTier != nil && !tiers.AtLeast(user.Tier, *task.MinTier) {
			return fmt.Errorf("task %s requires tier %s: %w", taskID, *task.MinTier, ErrIneligibleTier)
		}
		dup, err := s.executions.HasNonRejected(ctx, tx, taskID, userID)
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("execution already exists for task %s: %w", taskID, ErrInvalidState)
		}
		expires := now.Add(executionTTL)
		exec = &models.TaskExecution{
			ID:           uuid.New(),
			TaskID:       taskID,
			UserID:       userID,
			Status:       models.ExecutionStatusPending,
			RewardAmount: task.RewardAmount,
			AutoChecked:  task.AutoCheck,
			ExpiresAt:    &expires,
		}
		if err := s.executions.CreateTx(ctx, tx, exec); err != nil {
			if repository.IsUniqueViolation(err) {
				return fmt.Errorf("execution already exists for task %s: %w", taskID, ErrInvalidState)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// ApproveExecution pays out a pending execution. The final reward is
// the task reward times the executor's tier multiplier, clamped to the
// task's remaining budget. The author's frozen share is released and
// the executor is credited in the same transaction; when the task hits
// its target the leftover budget is unfrozen back to the author.
func (s *EscrowEngine) ApproveExecution(ctx context.Context, executionID uuid.UUID, reviewerID int64) error {
	var (
		executorID int64
		reward     decimal.Decimal
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		exec, err := s.executions.GetByIDForUpdate(ctx, tx, executionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
			}
			return err
		}
		if exec.Status != models.ExecutionStatusPending {
			return fmt.Errorf("execution %s is %s: %w", executionID, exec.Status, ErrInvalidState)
		}
		task, err := s.tasks.GetByIDForUpdate(ctx, tx, exec.TaskID)
		if err != nil {
			return err
		}
		if task.IsTerminal() {
			return fmt.Errorf("task %s is %s: %w", task.ID, task.Status, ErrInvalidState)
		}

		// Author first, executor second: the source account always locks
		// before the destination so two approvals cannot deadlock.
		author, err := s.ledger.LockAccount(ctx, tx, task.AuthorID)
		if err != nil {
			return err
		}
		executor, err := s.ledger.LockAccount(ctx, tx, exec.UserID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		cfg := s.ledger.Tiers().Get(executor.Tier)
		final := task.RewardAmount.Mul(cfg.TaskMultiplier).RoundBank(2)
		if remaining := task.RemainingBudget(); final.GreaterThan(remaining) {
			final = remaining
		}
		if !final.IsPositive() {
			return fmt.Errorf("task %s budget exhausted: %w", task.ID, ErrInvalidState)
		}

		if _, err := s.ledger.UnfreezeLocked(ctx, tx, author, final, models.EntryUnfreeze, TaskRef(task.ID), "task reward released"); err != nil {
			return err
		}
		executor.RollDailyCounters(now)
		executor.DailyTasksCompleted++
		executor.TasksCompleted++
		if _, err := s.ledger.CreditLocked(ctx, tx, executor, final, models.EntryTaskReward, TaskRef(task.ID), "task reward"); err != nil {
			return err
		}

		exec.Status = models.ExecutionStatusCompleted
		exec.RewardAmount = final
		exec.ReviewerID = &reviewerID
		exec.CompletedAt = &now
		exec.ReviewedAt = &now
		ok, err := s.executions.Transition(ctx, tx, exec, models.ExecutionStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("execution %s moved concurrently: %w", executionID, ErrConcurrencyConflict)
		}

		task.SpentBudget = task.SpentBudget.Add(final)
		task.CompletedExecutions++
		if task.CompletedExecutions >= task.TargetExecutions {
			task.Status = models.TaskStatusCompleted
			task.CompletedAt = &now
			if leftover := task.RemainingBudget(); leftover.IsPositive() {
				if _, err := s.ledger.UnfreezeLocked(ctx, tx, author, leftover, models.EntryTaskRefund, TaskRef(task.ID), "unused budget returned"); err != nil {
					return err
				}
			}
		}
		if err := s.tasks.UpdateTx(ctx, tx, task); err != nil {
			return err
		}
		executorID, reward = exec.UserID, final
		return nil
	})
	if err != nil {
		return err
	}
	for _, h := range s.hooks {
		h.TaskRewardCredited(ctx, executorID, reward)
	}
	return nil
}

// RejectExecution closes a pending execution without any ledger effect.
func (s *EscrowEngine) RejectExecution(ctx context.Context, executionID uuid.UUID, reviewerID int64, reason string) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		exec, err := s.executions.GetByIDForUpdate(ctx, tx, executionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
			}
			return err
		}
		if exec.Status != models.ExecutionStatusPending {
			return fmt.Errorf("execution %s is %s: %w", executionID, exec.Status, ErrInvalidState)
		}
		now := s.clock.Now()
		exec.Status = models.ExecutionStatusRejected
		exec.RewardAmount = decimal.Zero
		exec.ReviewerID = &reviewerID
		exec.ReviewComment = reason
		exec.ReviewedAt = &now
		ok, err := s.executions.Transition(ctx, tx, exec, models.ExecutionStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("execution %s moved concurrently: %w", executionID, ErrConcurrencyConflict)
		}
		return nil
	})
}

// CancelTask closes an Active or Paused task, releases the unspent
// budget back to the author and cancels the pending executions.
func (s *EscrowEngine) CancelTask(ctx context.Context, taskID uuid.UUID, requesterID int64) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		task, err := s.lockOpenTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.AuthorID != requesterID {
			return fmt.Errorf("task %s belongs to %d: %w", taskID, task.AuthorID, ErrForbidden)
		}
		return s.closeTask(ctx, tx, task, models.TaskStatusCancelled, models.ExecutionStatusCancelled)
	})
}

// PauseTask toggles Active to Paused. No ledger effect.
func (s *EscrowEngine) PauseTask(ctx context.Context, taskID uuid.UUID, requesterID int64) error {
	return s.toggleStatus(ctx, taskID, requesterID, models.TaskStatusActive, models.TaskStatusPaused)
}

// ResumeTask toggles Paused back to Active.
func (s *EscrowEngine) ResumeTask(ctx context.Context, taskID uuid.UUID, requesterID int64) error {
	return s.toggleStatus(ctx, taskID, requesterID, models.TaskStatusPaused, models.TaskStatusActive)
}

func (s *EscrowEngine) toggleStatus(ctx context.Context, taskID uuid.UUID, requesterID int64, from, to string) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
			}
			return err
		}
		if task.AuthorID != requesterID {
			return fmt.Errorf("task %s belongs to %d: %w", taskID, task.AuthorID, ErrForbidden)
		}
		if task.Status != from {
			return fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrInvalidState)
		}
		task.Status = to
		return s.tasks.UpdateTx(ctx, tx, task)
	})
}

// SweepExpiredTasks expires overdue Active and Paused tasks and returns
// how many were closed. Failures on individual tasks are logged and do
// not stop the sweep.
func (s *EscrowEngine) SweepExpiredTasks(ctx context.Context) (int, error) {
	ids, err := s.tasks.ListExpiredActive(ctx, s.clock.Now(), 100)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		err := s.db.InTx(ctx, func(tx pgx.Tx) error {
			task, err := s.lockOpenTask(ctx, tx, id)
			if err != nil {
				return err
			}
			if task.ExpiresAt == nil || task.ExpiresAt.After(s.clock.Now()) {
				return fmt.Errorf("task %s no longer expired: %w", id, ErrInvalidState)
			}
			return s.closeTask(ctx, tx, task, models.TaskStatusExpired, models.ExecutionStatusExpired)
		})
		if err != nil {
			if !errors.Is(err, ErrInvalidState) {
				s.logger.Warn("task expiry failed", "task_id", id, "error", err)
			}
			continue
		}
		closed++
		metrics.SweepTransitions.WithLabelValues("task").Inc()
	}
	return closed, nil
}

// SweepExpiredExecutions expires overdue pending executions.
func (s *EscrowEngine) SweepExpiredExecutions(ctx context.Context) (int, error) {
	ids, err := s.executions.ListExpiredPending(ctx, s.clock.Now(), 500)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		err := s.db.InTx(ctx, func(tx pgx.Tx) error {
			exec, err := s.executions.GetByIDForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if exec.Status != models.ExecutionStatusPending {
				return fmt.Errorf("execution %s is %s: %w", id, exec.Status, ErrInvalidState)
			}
			now := s.clock.Now()
			exec.Status = models.ExecutionStatusExpired
			exec.ReviewedAt = &now
			ok, err := s.executions.Transition(ctx, tx, exec, models.ExecutionStatusPending)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("execution %s moved concurrently: %w", id, ErrConcurrencyConflict)
			}
			return nil
		})
		if err != nil {
			if !errors.Is(err, ErrInvalidState) {
				s.logger.Warn("execution expiry failed", "execution_id", id, "error", err)
			}
			continue
		}
		closed++
		metrics.SweepTransitions.WithLabelValues("execution").Inc()
	}
	return closed, nil
}

func (s *EscrowEngine) lockOpenTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, err
	}
	if task.Status != models.TaskStatusActive && task.Status != models.TaskStatusPaused {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrInvalidState)
	}
	return task, nil
}

// closeTask releases the unspent budget and moves the task and its
// pending executions to terminal states. The task must be locked and
// Active or Paused.
func (s *EscrowEngine) closeTask(ctx context.Context, tx pgx.Tx, task *models.Task, taskStatus, execStatus string) error {
	author, err := s.ledger.LockAccount(ctx, tx, task.AuthorID)
	if err != nil {
		return err
	}
	if leftover := task.RemainingBudget(); leftover.IsPositive() {
		if _, err := s.ledger.UnfreezeLocked(ctx, tx, author, leftover, models.EntryTaskRefund, TaskRef(task.ID), "task budget returned"); err != nil {
			return err
		}
	}
	now := s.clock.Now()
	if _, err := s.executions.ClosePendingByTask(ctx, tx, task.ID, execStatus, now); err != nil {
		return err
	}
	task.Status = taskStatus
	task.CompletedAt = &now
	return s.tasks.UpdateTx(ctx, tx, task)
}
