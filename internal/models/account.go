package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/tiers"
)

// Account holds a user's GRAM balances and cumulative statistics.
// The primary key is the Telegram user id. Accounts are never deleted;
// misbehaving users are banned instead.
type Account struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`

	Balance       decimal.Decimal `json:"balance"`
	FrozenBalance decimal.Decimal `json:"frozen_balance"`

	Tier         tiers.Tier `json:"tier"`
	IsPremium    bool       `json:"is_premium"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
	IsBanned     bool       `json:"is_banned"`
	BanReason    string     `json:"ban_reason,omitempty"`

	ReferrerID       *int64          `json:"referrer_id,omitempty"`
	TotalReferrals   int             `json:"total_referrals"`
	PremiumReferrals int             `json:"premium_referrals"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`

	TasksCompleted int             `json:"tasks_completed"`
	TasksCreated   int             `json:"tasks_created"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`

	DailyTasksCompleted int        `json:"daily_tasks_completed"`
	DailyTasksCreated   int        `json:"daily_tasks_created"`
	LastTaskDate        *time.Time `json:"last_task_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvailableBalance is the spendable part of the balance: total minus frozen.
func (a *Account) AvailableBalance() decimal.Decimal {
	return a.Balance.Sub(a.FrozenBalance)
}

// PremiumActive reports whether the premium override currently applies.
func (a *Account) PremiumActive(now time.Time) bool {
	if !a.IsPremium {
		return false
	}
	return a.PremiumUntil == nil || a.PremiumUntil.After(now)
}

// DailyCreatedOn returns the number of tasks created on the given UTC day,
// treating a stale LastTaskDate as a fresh day.
func (a *Account) DailyCreatedOn(day time.Time) int {
	if a.LastTaskDate == nil || !sameUTCDay(*a.LastTaskDate, day) {
		return 0
	}
	return a.DailyTasksCreated
}

// RollDailyCounters resets both daily counters when now falls on a
// later UTC day than LastTaskDate, and anchors the counters to now.
func (a *Account) RollDailyCounters(now time.Time) {
	if a.LastTaskDate == nil || !sameUTCDay(*a.LastTaskDate, now) {
		a.DailyTasksCreated = 0
		a.DailyTasksCompleted = 0
	}
	t := now
	a.LastTaskDate = &t
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
