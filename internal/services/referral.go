package services

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/models"
)

// ReferralAccountReader looks up accounts outside a transaction.
type ReferralAccountReader interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
}

// ReferralProcessor pays the referrer a commission on every task reward
// the referred user earns. It runs as a post-commit hook: by the time
// it fires, the reward credit is durable, so every failure here is
// logged and swallowed rather than propagated.
type ReferralProcessor struct {
	ledger   *AccountService
	accounts ReferralAccountReader
	logger   *slog.Logger
}

func NewReferralProcessor(ledger *AccountService, accounts ReferralAccountReader, logger *slog.Logger) *ReferralProcessor {
	return &ReferralProcessor{ledger: ledger, accounts: accounts, logger: logger}
}

// TaskRewardCredited implements RewardHook. commission = reward x the
// referrer tier's referral task rate, bankers-rounded to two decimals.
func (p *ReferralProcessor) TaskRewardCredited(ctx context.Context, userID int64, amount decimal.Decimal) {
	user, err := p.accounts.GetByID(ctx, userID)
	if err != nil {
		p.logger.Warn("referral commission skipped", "user_id", userID, "error", err)
		return
	}
	if user.ReferrerID == nil {
		return
	}
	referrer, err := p.accounts.GetByID(ctx, *user.ReferrerID)
	if err != nil {
		p.logger.Warn("referral commission skipped", "user_id", userID, "referrer_id", *user.ReferrerID, "error", err)
		return
	}
	rate := p.ledger.Tiers().Get(referrer.Tier).ReferralTaskRate
	commission := amount.Mul(rate).RoundBank(2)
	if !commission.IsPositive() {
		return
	}
	_, err = p.ledger.Credit(ctx, referrer.ID, commission, models.EntryReferralCommission, UserRef(userID), "referral task commission")
	if err != nil {
		p.logger.Warn("referral commission failed", "referrer_id", referrer.ID, "user_id", userID, "error", err)
		return
	}
	p.logger.Info("referral commission paid", "referrer_id", referrer.ID, "user_id", userID, "commission", commission)
}
