package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/tiers"
)

// Task type enums.
const (
	TaskTypeChannelSubscription = "channel_subscription"
	TaskTypeGroupJoin           = "group_join"
	TaskTypePostView            = "post_view"
	TaskTypePostReaction        = "post_reaction"
	TaskTypeBotInteraction      = "bot_interaction"
	TaskTypeCustom              = "custom"
)

// Task status enums. Active and Paused are the only states with funds
// still frozen against the author.
const (
	TaskStatusDraft     = "draft"
	TaskStatusActive    = "active"
	TaskStatusPaused    = "paused"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
	TaskStatusExpired   = "expired"
)

// Task is an escrow-bearing promotion order. While the task is Active or
// Paused, total_budget - spent_budget GRAM stay frozen on the author's
// account.
type Task struct {
	ID       uuid.UUID `json:"id"`
	AuthorID int64     `json:"author_id"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TargetURL   string `json:"target_url"`

	RewardAmount     decimal.Decimal `json:"reward_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	TotalBudget      decimal.Decimal `json:"total_budget"`
	SpentBudget      decimal.Decimal `json:"spent_budget"`

	TargetExecutions    int `json:"target_executions"`
	CompletedExecutions int `json:"completed_executions"`

	MinTier   *tiers.Tier `json:"min_tier,omitempty"`
	AutoCheck bool        `json:"auto_check"`

	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RemainingBudget is the portion of the budget still frozen for this task.
func (t *Task) RemainingBudget() decimal.Decimal {
	return t.TotalBudget.Sub(t.SpentBudget)
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusExpired:
		return true
	}
	return false
}

// AcceptsExecutions reports whether new executions may start for this
// task at the given time.
func (t *Task) AcceptsExecutions(now time.Time) bool {
	if t.Status != TaskStatusActive {
		return false
	}
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return false
	}
	return t.CompletedExecutions < t.TargetExecutions
}
