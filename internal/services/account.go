package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/clock"
	"github.com/prgram/backend/internal/metrics"
	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/repository"
	"github.com/prgram/backend/internal/tiers"
)

// AccountStore is the minimal account repository interface for the
// ledger core.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Account, error)
	UpdateBalances(ctx context.Context, tx pgx.Tx, a *models.Account) error
	UpdateProfile(ctx context.Context, a *models.Account) error
	SetBanned(ctx context.Context, id int64, banned bool, reason string) error
}

// LedgerStore is the minimal append-only transaction log interface.
type LedgerStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

// EntryRef is the optional domain reference recorded on a ledger entry.
type EntryRef struct {
	Type string
	ID   string
}

// TaskRef builds an EntryRef pointing at a task.
func TaskRef(id uuid.UUID) *EntryRef { return &EntryRef{Type: models.RefTask, ID: id.String()} }

// CheckRef builds an EntryRef pointing at a check.
func CheckRef(id uuid.UUID) *EntryRef { return &EntryRef{Type: models.RefCheck, ID: id.String()} }

// UserRef builds an EntryRef pointing at another user.
func UserRef(id int64) *EntryRef { return &EntryRef{Type: models.RefUser, ID: fmt.Sprint(id)} }

// AccountService owns balances, frozen balances, tiers and cumulative
// statistics. Every balance mutation goes through a row-locked
// transaction that writes the account and appends exactly one ledger
// entry, so balance == sum(entry amounts) holds at all times.
type AccountService struct {
	db       repository.TxRunner
	accounts AccountStore
	ledger   LedgerStore
	tiers    tiers.Table
	clock    clock.Clock
	logger   *slog.Logger
}

func NewAccountService(db repository.TxRunner, accounts AccountStore, ledger LedgerStore, table tiers.Table, clk clock.Clock, logger *slog.Logger) *AccountService {
	return &AccountService{db: db, accounts: accounts, ledger: ledger, tiers: table, clock: clk, logger: logger}
}

// Tiers exposes the tier table to the engines built on this service.
func (s *AccountService) Tiers() tiers.Table { return s.tiers }

// Get returns the account or ErrNotFound.
func (s *AccountService) Get(ctx context.Context, id int64) (*models.Account, error) {
	acc, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return acc, nil
}

// GetOrCreateParams carries the Telegram profile seen on first contact.
type GetOrCreateParams struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	IsPremium    bool
	ReferrerID   *int64
}

// GetOrCreate registers the account on first contact and refreshes the
// profile on subsequent ones. A valid referrer earns the signup bonus
// for their tier; that credit is best-effort and never fails the
// registration.
func (s *AccountService) GetOrCreate(ctx context.Context, p GetOrCreateParams) (*models.Account, bool, error) {
	acc, err := s.accounts.GetByID(ctx, p.ID)
	if err == nil {
		if acc.Username != p.Username || acc.FirstName != p.FirstName || acc.LastName != p.LastName {
			acc.Username, acc.FirstName, acc.LastName = p.Username, p.FirstName, p.LastName
			if err := s.accounts.UpdateProfile(ctx, acc); err != nil {
				s.logger.Warn("profile refresh failed", "account_id", p.ID, "error", err)
			}
		}
		return acc, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	acc = &models.Account{
		ID:           p.ID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		LanguageCode: p.LanguageCode,
		IsPremium:    p.IsPremium,
		Tier:         s.tiers.ForBalance(decimal.Zero, p.IsPremium),
	}
	if p.ReferrerID != nil && *p.ReferrerID != p.ID {
		acc.ReferrerID = p.ReferrerID
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		if repository.IsUniqueViolation(err) {
			// Lost a registration race; the other writer's row wins.
			existing, getErr := s.Get(ctx, p.ID)
			return existing, false, getErr
		}
		return nil, false, err
	}

	if acc.ReferrerID != nil {
		s.payReferralSignupBonus(ctx, *acc.ReferrerID, acc.ID, p.IsPremium)
	}
	return acc, true, nil
}

func (s *AccountService) payReferralSignupBonus(ctx context.Context, referrerID, newUserID int64, premium bool) {
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		ref, err := s.LockAccount(ctx, tx, referrerID)
		if err != nil {
			return err
		}
		ref.TotalReferrals++
		if premium {
			ref.PremiumReferrals++
		}
		bonus := s.tiers.Get(ref.Tier).ReferralBonus
		_, err = s.CreditLocked(ctx, tx, ref, bonus, models.EntryReferralBonus, UserRef(newUserID), "referral signup bonus")
		return err
	})
	if err != nil {
		s.logger.Warn("referral signup bonus skipped", "referrer_id", referrerID, "new_user_id", newUserID, "error", err)
	}
}

// Credit adds amount to the account balance in its own transaction.
func (s *AccountService) Credit(ctx context.Context, id int64, amount decimal.Decimal, kind string, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	return s.inTxOn(ctx, id, func(tx pgx.Tx, acc *models.Account) (*models.LedgerEntry, error) {
		return s.CreditLocked(ctx, tx, acc, amount, kind, ref, description)
	})
}

// Debit removes amount from the account balance in its own transaction.
// Fails with ErrInsufficientFunds when the available balance is too low.
func (s *AccountService) Debit(ctx context.Context, id int64, amount decimal.Decimal, kind string, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	return s.inTxOn(ctx, id, func(tx pgx.Tx, acc *models.Account) (*models.LedgerEntry, error) {
		return s.DebitLocked(ctx, tx, acc, amount, kind, ref, description)
	})
}

// Freeze reserves amount of the available balance in its own transaction.
func (s *AccountService) Freeze(ctx context.Context, id int64, amount decimal.Decimal, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	return s.inTxOn(ctx, id, func(tx pgx.Tx, acc *models.Account) (*models.LedgerEntry, error) {
		return s.FreezeLocked(ctx, tx, acc, amount, models.EntryFreeze, ref, description)
	})
}

// Unfreeze releases amount of the frozen balance in its own transaction.
func (s *AccountService) Unfreeze(ctx context.Context, id int64, amount decimal.Decimal, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	return s.inTxOn(ctx, id, func(tx pgx.Tx, acc *models.Account) (*models.LedgerEntry, error) {
		return s.UnfreezeLocked(ctx, tx, acc, amount, models.EntryUnfreeze, ref, description)
	})
}

func (s *AccountService) inTxOn(ctx context.Context, id int64, fn func(tx pgx.Tx, acc *models.Account) (*models.LedgerEntry, error)) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		acc, err := s.LockAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		entry, err = fn(tx, acc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// LockAccount loads the account under a row lock held for the rest of
// the transaction.
func (s *AccountService) LockAccount(ctx context.Context, tx pgx.Tx, id int64) (*models.Account, error) {
	acc, err := s.accounts.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return acc, nil
}

// CreditLocked applies a positive balance delta to an already locked
// account. Counter updates depend on kind: deposits feed
// total_deposited, rewards and referral payments feed total_earned.
func (s *AccountService) CreditLocked(ctx context.Context, tx pgx.Tx, acc *models.Account, amount decimal.Decimal, kind string, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit %s: %w", amount, ErrInvalidAmount)
	}
	return s.applyLocked(ctx, tx, acc, entrySpec{kind: kind, amount: amount, ref: ref, description: description})
}

// DebitLocked applies a negative balance delta to an already locked
// account. The debit is authorized against the available balance so the
// frozen portion can never exceed the total.
func (s *AccountService) DebitLocked(ctx context.Context, tx pgx.Tx, acc *models.Account, amount decimal.Decimal, kind string, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit %s: %w", amount, ErrInvalidAmount)
	}
	if acc.AvailableBalance().LessThan(amount) {
		return nil, fmt.Errorf("debit %s from account %d: %w", amount, acc.ID, ErrInsufficientFunds)
	}
	return s.applyLocked(ctx, tx, acc, entrySpec{kind: kind, amount: amount.Neg(), ref: ref, description: description})
}

// FreezeLocked reserves amount of the available balance. The entry
// carries a zero amount and records the reservation in frozen_delta, so
// the balance itself is untouched.
func (s *AccountService) FreezeLocked(ctx context.Context, tx pgx.Tx, acc *models.Account, amount decimal.Decimal, kind string, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("freeze %s: %w", amount, ErrInvalidAmount)
	}
	if acc.AvailableBalance().LessThan(amount) {
		return nil, fmt.Errorf("freeze %s on account %d: %w", amount, acc.ID, ErrInsufficientFunds)
	}
	return s.applyLocked(ctx, tx, acc, entrySpec{kind: kind, frozenDelta: amount, ref: ref, description: description})
}

// UnfreezeLocked releases amount of the frozen balance. Like
// FreezeLocked it never changes the balance, only frozen_balance.
func (s *AccountService) UnfreezeLocked(ctx context.Context, tx pgx.Tx, acc *models.Account, amount decimal.Decimal, kind string, ref *EntryRef, description string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("unfreeze %s: %w", amount, ErrInvalidAmount)
	}
	if acc.FrozenBalance.LessThan(amount) {
		return nil, fmt.Errorf("unfreeze %s on account %d with frozen %s: %w", amount, acc.ID, acc.FrozenBalance, ErrInvalidState)
	}
	return s.applyLocked(ctx, tx, acc, entrySpec{kind: kind, frozenDelta: amount.Neg(), ref: ref, description: description})
}

// DepositLocked credits an external payment: a deposit entry carrying
// the provider charge id as its idempotency key, plus an optional bonus
// entry. The unique index on external_reference rejects replays.
func (s *AccountService) DepositLocked(ctx context.Context, tx pgx.Tx, acc *models.Account, gross, bonus decimal.Decimal, externalID string) (*models.LedgerEntry, error) {
	if !gross.IsPositive() {
		return nil, fmt.Errorf("deposit %s: %w", gross, ErrInvalidAmount)
	}
	entry, err := s.applyLocked(ctx, tx, acc, entrySpec{
		kind:        models.EntryDeposit,
		amount:      gross,
		externalRef: &externalID,
		description: "external payment",
	})
	if err != nil {
		return nil, err
	}
	if bonus.IsPositive() {
		// Bonus entry stays without the external reference: the index is
		// unique and the deposit entry already owns the key.
		_, err = s.applyLocked(ctx, tx, acc, entrySpec{
			kind:        models.EntryDepositBonus,
			amount:      bonus,
			description: "deposit bonus for " + externalID,
		})
		if err != nil {
			return nil, err
		}
	}
	return entry, nil
}

type entrySpec struct {
	kind        string
	amount      decimal.Decimal
	frozenDelta decimal.Decimal
	externalRef *string
	ref         *EntryRef
	description string
}

// applyLocked is the single write path for balances: it mutates the
// locked account struct, recomputes counters and tier, appends the
// ledger entry and persists the account, all inside the caller's
// transaction.
func (s *AccountService) applyLocked(ctx context.Context, tx pgx.Tx, acc *models.Account, spec entrySpec) (*models.LedgerEntry, error) {
	now := s.clock.Now()
	entry := &models.LedgerEntry{
		ID:                uuid.New(),
		AccountID:         acc.ID,
		Kind:              spec.kind,
		Amount:            spec.amount,
		FrozenDelta:       spec.frozenDelta,
		BalanceBefore:     acc.Balance,
		BalanceAfter:      acc.Balance.Add(spec.amount),
		ExternalReference: spec.externalRef,
		Description:       spec.description,
	}
	if spec.ref != nil {
		entry.ReferenceID = &spec.ref.ID
		entry.ReferenceType = &spec.ref.Type
	}

	acc.Balance = entry.BalanceAfter
	acc.FrozenBalance = acc.FrozenBalance.Add(spec.frozenDelta)

	switch {
	case spec.amount.IsPositive():
		switch spec.kind {
		case models.EntryDeposit, models.EntryDepositBonus:
			acc.TotalDeposited = acc.TotalDeposited.Add(spec.amount)
		case models.EntryTaskReward, models.EntryCheckDistribution:
			acc.TotalEarned = acc.TotalEarned.Add(spec.amount)
		case models.EntryReferralBonus, models.EntryReferralCommission:
			acc.TotalEarned = acc.TotalEarned.Add(spec.amount)
			acc.ReferralEarnings = acc.ReferralEarnings.Add(spec.amount)
		}
	case spec.amount.IsNegative():
		acc.TotalSpent = acc.TotalSpent.Add(spec.amount.Neg())
	}
	acc.Tier = s.tiers.ForBalance(acc.Balance, acc.PremiumActive(now))

	if err := s.ledger.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := s.accounts.UpdateBalances(ctx, tx, acc); err != nil {
		return nil, err
	}
	metrics.LedgerEntries.WithLabelValues(spec.kind).Inc()
	return entry, nil
}

// Ban blocks the account from all engines. The balance stays intact.
func (s *AccountService) Ban(ctx context.Context, id int64, reason string) error {
	if err := s.accounts.SetBanned(ctx, id, true, reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return err
	}
	s.logger.Info("account banned", "account_id", id, "reason", reason)
	return nil
}

// Unban lifts a ban.
func (s *AccountService) Unban(ctx context.Context, id int64) error {
	if err := s.accounts.SetBanned(ctx, id, false, ""); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return err
	}
	s.logger.Info("account unbanned", "account_id", id)
	return nil
}
