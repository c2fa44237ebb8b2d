package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry kinds. Amount is the signed balance delta; freeze and
// unfreeze entries carry a zero amount and record the change in
// FrozenDelta instead, so that balance == sum(amount) holds at all times.
const (
	EntryDeposit            = "deposit"
	EntryDepositBonus       = "deposit_bonus"
	EntryTaskReward         = "task_reward"
	EntryTaskCreationEscrow = "task_creation_escrow"
	EntryTaskRefund         = "task_refund"
	EntryCheckEscrow        = "check_escrow"
	EntryCheckDistribution  = "check_distribution"
	EntryCheckRefund        = "check_refund"
	EntryReferralBonus      = "referral_bonus"
	EntryReferralCommission = "referral_commission"
	EntryAdminAdjustment    = "admin_adjustment"
	EntryFreeze             = "freeze"
	EntryUnfreeze           = "unfreeze"
)

// Reference types for the optional domain reference on a ledger entry.
const (
	RefTask    = "task"
	RefCheck   = "check"
	RefUser    = "user"
	RefDeposit = "deposit"
)

// LedgerEntry is one immutable row of the append-only transaction log.
// Entries are never updated or deleted; they are the source of truth for
// reconciliation and auditing.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	AccountID int64     `json:"account_id"`
	Kind      string    `json:"kind"`

	Amount        decimal.Decimal `json:"amount"`
	FrozenDelta   decimal.Decimal `json:"frozen_delta"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`

	// ExternalReference is the idempotency key for payment ingestion
	// (provider charge id). Unique when set.
	ExternalReference *string `json:"external_reference,omitempty"`
	ReferenceID       *string `json:"reference_id,omitempty"`
	ReferenceType     *string `json:"reference_type,omitempty"`
	Description       string  `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
