package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/prgram/backend/internal/clock"
	"github.com/prgram/backend/internal/metrics"
	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/repository"
	"github.com/prgram/backend/internal/tiers"
)

// Check amount bounds and defaults.
var (
	MinCheckAmount         = decimal.RequireFromString("10")
	MaxCheckAmount         = decimal.RequireFromString("100000")
	MinActivationAmount    = decimal.RequireFromString("1")
	defaultCheckTTL        = 30 * 24 * time.Hour
	checkCodeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	checkCodeLength        = 12
)

// CheckStore is the minimal check repository interface for the engine.
type CheckStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Check) error
	GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.Check, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Check, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Check) error
	InsertActivationTx(ctx context.Context, tx pgx.Tx, a *models.CheckActivation) error
	CountActivationsByUser(ctx context.Context, tx pgx.Tx, checkID uuid.UUID, userID int64) (int, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// CheckEngine manages voucher escrow: the full amount is frozen on the
// creator at creation, each activation releases one share to the
// activating user, and whatever is left on expiry or cancellation is
// unfrozen back to the creator.
type CheckEngine struct {
	db     repository.TxRunner
	ledger *AccountService
	checks CheckStore
	clock  clock.Clock
	logger *slog.Logger
}

func NewCheckEngine(db repository.TxRunner, ledger *AccountService, checks CheckStore, clk clock.Clock, logger *slog.Logger) *CheckEngine {
	return &CheckEngine{db: db, ledger: ledger, checks: checks, clock: clk, logger: logger}
}

// CreateCheckParams describes a new voucher.
type CreateCheckParams struct {
	CreatorID      int64
	Type           string
	TotalAmount    decimal.Decimal
	MaxActivations int
	MaxPerUser     int
	Comment        string
	Password       string
	MinTier        *tiers.Tier
	ExpiresAt      *time.Time
}

// CreateCheck freezes the total amount on the creator and persists the
// check as Active. The per-activation share is the total divided by the
// activation count, bankers-rounded to two decimals; the division
// residual is settled on the final activation.
func (s *CheckEngine) CreateCheck(ctx context.Context, p CreateCheckParams) (*models.Check, error) {
	if p.Type == models.CheckTypePersonal {
		p.MaxActivations = 1
	}
	if p.MaxActivations < 1 {
		return nil, fmt.Errorf("max activations %d: %w", p.MaxActivations, ErrInvalidAmount)
	}
	if p.TotalAmount.LessThan(MinCheckAmount) || p.TotalAmount.GreaterThan(MaxCheckAmount) {
		return nil, fmt.Errorf("check amount %s outside %s..%s: %w", p.TotalAmount, MinCheckAmount, MaxCheckAmount, ErrInvalidAmount)
	}
	perActivation := p.TotalAmount.Div(decimal.NewFromInt(int64(p.MaxActivations))).RoundBank(2)
	if perActivation.LessThan(MinActivationAmount) {
		return nil, fmt.Errorf("amount per activation %s below %s: %w", perActivation, MinActivationAmount, ErrInvalidAmount)
	}
	if p.MaxPerUser < 1 {
		p.MaxPerUser = 1
	}

	var passwordHash string
	if p.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash check password: %w", err)
		}
		passwordHash = string(hash)
	}

	now := s.clock.Now()
	expiresAt := p.ExpiresAt
	if expiresAt == nil {
		t := now.Add(defaultCheckTTL)
		expiresAt = &t
	}

	code, err := generateCheckCode()
	if err != nil {
		return nil, err
	}
	check := &models.Check{
		ID:                  uuid.New(),
		CreatorID:           p.CreatorID,
		Type:                p.Type,
		Status:              models.CheckStatusActive,
		Code:                code,
		TotalAmount:         p.TotalAmount,
		AmountPerActivation: perActivation,
		RemainingAmount:     p.TotalAmount,
		MaxActivations:      p.MaxActivations,
		MaxPerUser:          p.MaxPerUser,
		Comment:             p.Comment,
		PasswordHash:        passwordHash,
		MinTier:             p.MinTier,
		ExpiresAt:           expiresAt,
	}

	err = s.db.InTx(ctx, func(tx pgx.Tx) error {
		creator, err := s.ledger.LockAccount(ctx, tx, p.CreatorID)
		if err != nil {
			return err
		}
		if creator.IsBanned {
			return fmt.Errorf("account %d: %w", creator.ID, ErrAccountBanned)
		}
		if _, err := s.ledger.FreezeLocked(ctx, tx, creator, p.TotalAmount, models.EntryCheckEscrow, CheckRef(check.ID), "check escrow"); err != nil {
			return err
		}
		if err := s.checks.CreateTx(ctx, tx, check); err != nil {
			if repository.IsUniqueViolation(err) {
				return fmt.Errorf("check code collision: %w", ErrConcurrencyConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("check created", "check_id", check.ID, "creator_id", check.CreatorID, "amount", check.TotalAmount)
	return check, nil
}

// ActivateCheck redeems one share of the check for the user and returns
// the amount received. All activations of one check serialize on the
// check row lock; the unique activation index backstops duplicate
// claims.
func (s *CheckEngine) ActivateCheck(ctx context.Context, code string, userID int64, password string) (decimal.Decimal, error) {
	var received decimal.Decimal
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		check, err := s.checks.GetByCodeForUpdate(ctx, tx, code)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check %q: %w", code, ErrNotFound)
			}
			return err
		}
		now := s.clock.Now()
		if check.Status != models.CheckStatusActive {
			return fmt.Errorf("check %q is %s: %w", code, check.Status, ErrCheckNotActive)
		}
		if check.IsExpired(now) {
			return fmt.Errorf("check %q: %w", code, ErrCheckExpired)
		}
		if check.CreatorID == userID {
			return fmt.Errorf("check %q: %w", code, ErrSelfActivation)
		}
		if check.PasswordHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(check.PasswordHash), []byte(password)) != nil {
				return fmt.Errorf("check %q: %w", code, ErrWrongPassword)
			}
		}

		// Creator (source) locks before the user (destination).
		creator, err := s.ledger.LockAccount(ctx, tx, check.CreatorID)
		if err != nil {
			return err
		}
		user, err := s.ledger.LockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.IsBanned {
			return fmt.Errorf("account %d: %w", userID, ErrAccountBanned)
		}
		if check.MinTier != nil && !tiers.AtLeast(user.Tier, *check.MinTier) {
			return fmt.Errorf("check %q requires tier %s: %w", code, *check.MinTier, ErrIneligibleTier)
		}
		prior, err := s.checks.CountActivationsByUser(ctx, tx, check.ID, userID)
		if err != nil {
			return err
		}
		if prior >= check.MaxPerUser {
			return fmt.Errorf("check %q: %w", code, ErrAlreadyActivated)
		}
		if check.RemainingActivations() == 0 || !check.RemainingAmount.IsPositive() {
			return fmt.Errorf("check %q exhausted: %w", code, ErrCheckNotActive)
		}

		amount := check.AmountPerActivation
		last := check.CurrentActivations+1 == check.MaxActivations
		if last || amount.GreaterThan(check.RemainingAmount) {
			// Rounding residual settles on the final share.
			amount = check.RemainingAmount
		}

		activation := &models.CheckActivation{
			ID:             uuid.New(),
			CheckID:        check.ID,
			UserID:         userID,
			AmountReceived: amount,
		}
		if err := s.checks.InsertActivationTx(ctx, tx, activation); err != nil {
			if repository.IsUniqueViolation(err) {
				return fmt.Errorf("check %q: %w", code, ErrAlreadyActivated)
			}
			return err
		}

		if _, err := s.ledger.UnfreezeLocked(ctx, tx, creator, amount, models.EntryUnfreeze, CheckRef(check.ID), "check share released"); err != nil {
			return err
		}
		if _, err := s.ledger.CreditLocked(ctx, tx, user, amount, models.EntryCheckDistribution, CheckRef(check.ID), "check activation"); err != nil {
			return err
		}

		check.CurrentActivations++
		check.RemainingAmount = check.RemainingAmount.Sub(amount)
		if check.CurrentActivations >= check.MaxActivations || !check.RemainingAmount.IsPositive() {
			check.Status = models.CheckStatusCompleted
			if check.RemainingAmount.IsPositive() {
				if _, err := s.ledger.UnfreezeLocked(ctx, tx, creator, check.RemainingAmount, models.EntryCheckRefund, CheckRef(check.ID), "check remainder returned"); err != nil {
					return err
				}
				check.RemainingAmount = decimal.Zero
			}
		}
		if err := s.checks.UpdateTx(ctx, tx, check); err != nil {
			return err
		}
		received = amount
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	metrics.CheckActivations.Inc()
	return received, nil
}

// CancelCheck closes an Active check and unfreezes the undistributed
// remainder back to the creator.
func (s *CheckEngine) CancelCheck(ctx context.Context, checkID uuid.UUID, requesterID int64) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		check, err := s.checks.GetByIDForUpdate(ctx, tx, checkID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check %s: %w", checkID, ErrNotFound)
			}
			return err
		}
		if check.CreatorID != requesterID {
			return fmt.Errorf("check %s belongs to %d: %w", checkID, check.CreatorID, ErrForbidden)
		}
		if check.Status != models.CheckStatusActive {
			return fmt.Errorf("check %s is %s: %w", checkID, check.Status, ErrInvalidState)
		}
		return s.closeCheck(ctx, tx, check, models.CheckStatusCancelled)
	})
}

// SweepExpiredChecks expires overdue Active checks and returns how many
// were closed. Each check closes in its own transaction; failures are
// logged and skipped.
func (s *CheckEngine) SweepExpiredChecks(ctx context.Context) (int, error) {
	ids, err := s.checks.ListExpiredActive(ctx, s.clock.Now(), 100)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		err := s.db.InTx(ctx, func(tx pgx.Tx) error {
			check, err := s.checks.GetByIDForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if check.Status != models.CheckStatusActive || !check.IsExpired(s.clock.Now()) {
				return fmt.Errorf("check %s no longer expired: %w", id, ErrInvalidState)
			}
			return s.closeCheck(ctx, tx, check, models.CheckStatusExpired)
		})
		if err != nil {
			if !errors.Is(err, ErrInvalidState) {
				s.logger.Warn("check expiry failed", "check_id", id, "error", err)
			}
			continue
		}
		closed++
		metrics.SweepTransitions.WithLabelValues("check").Inc()
	}
	return closed, nil
}

func (s *CheckEngine) closeCheck(ctx context.Context, tx pgx.Tx, check *models.Check, status string) error {
	if check.RemainingAmount.IsPositive() {
		creator, err := s.ledger.LockAccount(ctx, tx, check.CreatorID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.UnfreezeLocked(ctx, tx, creator, check.RemainingAmount, models.EntryCheckRefund, CheckRef(check.ID), "check remainder returned"); err != nil {
			return err
		}
		check.RemainingAmount = decimal.Zero
	}
	check.Status = status
	return s.checks.UpdateTx(ctx, tx, check)
}

func generateCheckCode() (string, error) {
	max := big.NewInt(int64(len(checkCodeAlphabet)))
	code := make([]byte, checkCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate check code: %w", err)
		}
		code[i] = checkCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
