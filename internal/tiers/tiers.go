package tiers

import (
	"github.com/shopspring/decimal"
)

// Tier is a user level. Tiers are ordered: Bronze < Silver < Gold < Premium.
type Tier string

const (
	Bronze  Tier = "bronze"
	Silver  Tier = "silver"
	Gold    Tier = "gold"
	Premium Tier = "premium"
)

// ordered lists tiers from lowest to highest.
var ordered = []Tier{Bronze, Silver, Gold, Premium}

// Rank returns the position of t in the tier order, or -1 for unknown tiers.
func Rank(t Tier) int {
	for i, candidate := range ordered {
		if candidate == t {
			return i
		}
	}
	return -1
}

// AtLeast reports whether t is the same tier as min or a higher one.
func AtLeast(t, min Tier) bool {
	return Rank(t) >= Rank(min)
}

// Config holds the per-tier parameters the engine needs: the balance
// threshold to reach the tier, the commission charged on task budgets,
// the reward multiplier applied to task payouts, referral amounts, and
// the daily task-creation limit (-1 means unlimited).
type Config struct {
	Threshold        decimal.Decimal
	CommissionRate   decimal.Decimal
	TaskMultiplier   decimal.Decimal
	ReferralBonus    decimal.Decimal
	ReferralTaskRate decimal.Decimal
	MaxTaskReward    decimal.Decimal
	DailyTaskLimit   int
}

// Table maps each tier to its config. Loaded once at startup and passed
// into the services by value; never mutated afterwards.
type Table map[Tier]Config

// Default returns the production tier table.
func Default() Table {
	return Table{
		Bronze: {
			Threshold:        decimal.Zero,
			CommissionRate:   decimal.RequireFromString("0.07"),
			TaskMultiplier:   decimal.RequireFromString("1.0"),
			ReferralBonus:    decimal.RequireFromString("1000"),
			ReferralTaskRate: decimal.RequireFromString("0.05"),
			MaxTaskReward:    decimal.RequireFromString("500"),
			DailyTaskLimit:   5,
		},
		Silver: {
			Threshold:        decimal.RequireFromString("10000"),
			CommissionRate:   decimal.RequireFromString("0.06"),
			TaskMultiplier:   decimal.RequireFromString("1.2"),
			ReferralBonus:    decimal.RequireFromString("1500"),
			ReferralTaskRate: decimal.RequireFromString("0.05"),
			MaxTaskReward:    decimal.RequireFromString("1000"),
			DailyTaskLimit:   15,
		},
		Gold: {
			Threshold:        decimal.RequireFromString("50000"),
			CommissionRate:   decimal.RequireFromString("0.05"),
			TaskMultiplier:   decimal.RequireFromString("1.35"),
			ReferralBonus:    decimal.RequireFromString("2000"),
			ReferralTaskRate: decimal.RequireFromString("0.05"),
			MaxTaskReward:    decimal.RequireFromString("2000"),
			DailyTaskLimit:   30,
		},
		Premium: {
			Threshold:        decimal.RequireFromString("100000"),
			CommissionRate:   decimal.RequireFromString("0.03"),
			TaskMultiplier:   decimal.RequireFromString("1.5"),
			ReferralBonus:    decimal.RequireFromString("3000"),
			ReferralTaskRate: decimal.RequireFromString("0.05"),
			MaxTaskReward:    decimal.RequireFromString("5000"),
			DailyTaskLimit:   -1,
		},
	}
}

// Get returns the config for t, falling back to Bronze for unknown values.
func (t Table) Get(tier Tier) Config {
	if cfg, ok := t[tier]; ok {
		return cfg
	}
	return t[Bronze]
}

// ForBalance returns the tier a balance maps to: the highest tier whose
// threshold is less than or equal to the balance. A premium override wins
// regardless of balance.
func (t Table) ForBalance(balance decimal.Decimal, isPremium bool) Tier {
	if isPremium {
		return Premium
	}
	result := Bronze
	for _, tier := range ordered {
		if balance.GreaterThanOrEqual(t.Get(tier).Threshold) {
			result = tier
		}
	}
	return result
}
