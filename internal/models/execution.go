package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Execution status enums. Pending is the only non-terminal state; a
// reward credit may happen only on the pending -> completed transition.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusRejected  = "rejected"
	ExecutionStatusExpired   = "expired"
	ExecutionStatusCancelled = "cancelled"
)

// TaskExecution is one attempt by one user on one task. At most one
// non-terminal execution may exist per (task_id, user_id) pair.
type TaskExecution struct {
	ID     uuid.UUID `json:"id"`
	TaskID uuid.UUID `json:"task_id"`
	UserID int64     `json:"user_id"`
	Status string    `json:"status"`

	// RewardAmount is resolved at approval time: the task reward times
	// the executor's tier multiplier, clamped to the remaining budget.
	RewardAmount decimal.Decimal `json:"reward_amount"`

	ReviewerID    *int64 `json:"reviewer_id,omitempty"`
	ReviewComment string `json:"review_comment,omitempty"`
	AutoChecked   bool   `json:"auto_checked"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}
