package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/metrics"
	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/repository"
)

// gramPerStar is the base conversion rate: 1 Telegram Star = 10 GRAM.
var gramPerStar = decimal.RequireFromString("10")

// Bounds for custom (non-package) Stars deposits.
const (
	MinDepositStars int64 = 50
	MaxDepositStars int64 = 10000
)

// StarsPackage is one purchasable Stars bundle. Gram is the credited
// amount and already includes the package discount over the base rate;
// Bonus is extra GRAM granted as a separate bonus entry.
type StarsPackage struct {
	Name  string
	Stars int64
	Gram  decimal.Decimal
	Bonus decimal.Decimal
}

// StarsPackages lists the bundles offered in the bot, keyed by name.
var StarsPackages = map[string]StarsPackage{
	"basic":    {Name: "basic", Stars: 100, Gram: decimal.RequireFromString("1000"), Bonus: decimal.Zero},
	"economy":  {Name: "economy", Stars: 450, Gram: decimal.RequireFromString("5000"), Bonus: decimal.Zero},
	"standard": {Name: "standard", Stars: 850, Gram: decimal.RequireFromString("10000"), Bonus: decimal.Zero},
	"premium":  {Name: "premium", Stars: 2000, Gram: decimal.RequireFromString("25000"), Bonus: decimal.RequireFromString("1000")},
}

// ResolveStarsDeposit validates a pre-checkout request and returns the
// GRAM amounts to credit. An empty package name is a custom deposit at
// the base rate, bounded in stars. Pure check, no ledger involvement.
func ResolveStarsDeposit(packageName string, stars int64) (gross, bonus decimal.Decimal, err error) {
	if packageName == "" {
		if stars < MinDepositStars || stars > MaxDepositStars {
			return decimal.Zero, decimal.Zero, fmt.Errorf("custom deposit of %d stars outside %d..%d: %w", stars, MinDepositStars, MaxDepositStars, ErrInvalidAmount)
		}
		return decimal.NewFromInt(stars).Mul(gramPerStar), decimal.Zero, nil
	}
	pkg, ok := StarsPackages[packageName]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("stars package %q: %w", packageName, ErrNotFound)
	}
	if stars != pkg.Stars {
		return decimal.Zero, decimal.Zero, fmt.Errorf("package %q expects %d stars, got %d: %w", packageName, pkg.Stars, stars, ErrInvalidAmount)
	}
	return pkg.Gram, pkg.Bonus, nil
}

// PaymentLedger is the entry lookup interface for idempotency checks.
type PaymentLedger interface {
	GetByExternalReferenceTx(ctx context.Context, tx pgx.Tx, ref string) (*models.LedgerEntry, error)
	GetByExternalReference(ctx context.Context, ref string) (*models.LedgerEntry, error)
}

// PaymentIngestion converts external payment confirmations into ledger
// credits exactly once per provider charge id.
type PaymentIngestion struct {
	db      repository.TxRunner
	ledger  *AccountService
	entries PaymentLedger
	logger  *slog.Logger
}

func NewPaymentIngestion(db repository.TxRunner, ledger *AccountService, entries PaymentLedger, logger *slog.Logger) *PaymentIngestion {
	return &PaymentIngestion{db: db, ledger: ledger, entries: entries, logger: logger}
}

// Ingest credits gross plus an optional bonus to the account, keyed on
// the provider's charge id. A replay returns the original deposit entry
// together with ErrAlreadyProcessed; callers treat that as success, so
// provider webhook retries stay safe.
func (s *PaymentIngestion) Ingest(ctx context.Context, externalID string, accountID int64, gross, bonus decimal.Decimal) (*models.LedgerEntry, error) {
	if externalID == "" {
		return nil, fmt.Errorf("empty external id: %w", ErrInvalidAmount)
	}
	var (
		entry  *models.LedgerEntry
		replay bool
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		existing, err := s.entries.GetByExternalReferenceTx(ctx, tx, externalID)
		if err == nil {
			entry, replay = existing, true
			return nil
		}
		if !isNoRows(err) {
			return err
		}
		acc, err := s.ledger.LockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		entry, err = s.ledger.DepositLocked(ctx, tx, acc, gross, bonus, externalID)
		return err
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			// Lost the race against a concurrent delivery of the same
			// charge; the winner's entry is the result.
			existing, getErr := s.entries.GetByExternalReference(ctx, externalID)
			if getErr != nil {
				return nil, getErr
			}
			metrics.PaymentsIngested.WithLabelValues("replay").Inc()
			return existing, fmt.Errorf("payment %s: %w", externalID, ErrAlreadyProcessed)
		}
		metrics.PaymentsIngested.WithLabelValues("error").Inc()
		return nil, err
	}
	if replay {
		metrics.PaymentsIngested.WithLabelValues("replay").Inc()
		return entry, fmt.Errorf("payment %s: %w", externalID, ErrAlreadyProcessed)
	}
	metrics.PaymentsIngested.WithLabelValues("ok").Inc()
	s.logger.Info("payment ingested", "external_id", externalID, "account_id", accountID, "gross", gross, "bonus", bonus)
	return entry, nil
}

func isNoRows(err error) bool {
	return err != nil && repository.IsNotFound(err)
}
