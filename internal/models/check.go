package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/tiers"
)

// Check type enums. A personal check always has max_activations == 1.
const (
	CheckTypePersonal = "personal"
	CheckTypeMulti    = "multi"
)

// Check status enums.
const (
	CheckStatusActive    = "active"
	CheckStatusCompleted = "completed"
	CheckStatusExpired   = "expired"
	CheckStatusCancelled = "cancelled"
)

// Check is a transferable GRAM voucher. The full amount is frozen on the
// creator's account at creation; each activation unfreezes one share and
// credits it to the activating user.
type Check struct {
	ID        uuid.UUID `json:"id"`
	CreatorID int64     `json:"creator_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Code      string    `json:"code"`

	TotalAmount         decimal.Decimal `json:"total_amount"`
	AmountPerActivation decimal.Decimal `json:"amount_per_activation"`
	RemainingAmount     decimal.Decimal `json:"remaining_amount"`

	MaxActivations     int `json:"max_activations"`
	CurrentActivations int `json:"current_activations"`
	MaxPerUser         int `json:"max_per_user"`

	Comment      string      `json:"comment,omitempty"`
	PasswordHash string      `json:"-"`
	MinTier      *tiers.Tier `json:"min_tier,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RemainingActivations is the number of activation slots left.
func (c *Check) RemainingActivations() int {
	if n := c.MaxActivations - c.CurrentActivations; n > 0 {
		return n
	}
	return 0
}

// IsExpired reports whether the check's deadline has passed.
func (c *Check) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// CheckActivation is one redemption record. Its existence is the
// idempotency guard for "this user already claimed this check".
type CheckActivation struct {
	ID             uuid.UUID       `json:"id"`
	CheckID        uuid.UUID       `json:"check_id"`
	UserID         int64           `json:"user_id"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	ActivatedAt    time.Time       `json:"activated_at"`
}
