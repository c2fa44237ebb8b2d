package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/tiers"
)

func TestCreateCheckFreezesTotal(t *testing.T) {
	env := newTestEnv()
	env.seedAccount(1, "1000")
	ctx := context.Background()

	check, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID:      1,
		Type:           models.CheckTypeMulti,
		TotalAmount:    decimal.RequireFromString("500"),
		MaxActivations: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusActive, check.Status)
	assert.True(t, check.AmountPerActivation.Equal(decimal.RequireFromString("100")), "per activation = %s", check.AmountPerActivation)
	assert.Len(t, check.Code, 12)

	creator := env.account(1)
	assert.True(t, creator.FrozenBalance.Equal(decimal.RequireFromString("500")))
	assert.True(t, creator.Balance.Equal(decimal.RequireFromString("1000")))
}

func TestCreateCheckValidation(t *testing.T) {
	env := newTestEnv()
	env.seedAccount(1, "1000000")
	ctx := context.Background()

	_, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("5"), MaxActivations: 1,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount, "below minimum amount")

	_, err = env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("200000"), MaxActivations: 1,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount, "above maximum amount")

	_, err = env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("10"), MaxActivations: 100,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount, "share below 1 GRAM")

	// Personal checks always have a single activation.
	check, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypePersonal,
		TotalAmount: decimal.RequireFromString("100"), MaxActivations: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, check.MaxActivations)
}

func TestActivateCheckGuards(t *testing.T) {
	env := newTestEnv()
	env.seedAccount(1, "1000")
	env.seedAccount(2, "0")
	ctx := context.Background()

	minTier := tiers.Gold
	check, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("100"), MaxActivations: 2,
		Password: "hunter2", MinTier: &minTier,
	})
	require.NoError(t, err)

	_, err = env.checkEng.ActivateCheck(ctx, "NOSUCHCODE", 2, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.checkEng.ActivateCheck(ctx, check.Code, 1, "hunter2")
	assert.ErrorIs(t, err, ErrSelfActivation)

	_, err = env.checkEng.ActivateCheck(ctx, check.Code, 2, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = env.checkEng.ActivateCheck(ctx, check.Code, 2, "hunter2")
	assert.ErrorIs(t, err, ErrIneligibleTier)

	// Promote the user to gold and redeem.
	_, err = env.ledger.Credit(ctx, 2, decimal.RequireFromString("50000"), models.EntryAdminAdjustment, nil, "")
	require.NoError(t, err)

	got, err := env.checkEng.ActivateCheck(ctx, check.Code, 2, "hunter2")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("50")))

	_, err = env.checkEng.ActivateCheck(ctx, check.Code, 2, "hunter2")
	assert.ErrorIs(t, err, ErrAlreadyActivated, "per-user cap")
}

func TestActivateCheckConcurrentBound(t *testing.T) {
	env := newTestEnv()
	env.seedAccount(1, "1000")
	for i := int64(2); i <= 11; i++ {
		env.seedAccount(i, "0")
	}
	ctx := context.Background()

	check, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("300"), MaxActivations: 3,
	})
	require.NoError(t, err)

	// Ten users race for three slots.
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := int64(2); i <= 11; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := env.checkEng.ActivateCheck(ctx, check.Code, userID, "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded, failed := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrCheckNotActive)
			failed++
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, failed)

	stored, err := env.checks.GetByIDForUpdate(ctx, nil, check.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusCompleted, stored.Status)
	assert.True(t, stored.RemainingAmount.IsZero(), "remaining = %s", stored.RemainingAmount)
	assert.True(t, env.account(1).FrozenBalance.IsZero())
}

func TestActivateCheckRoundingResidual(t *testing.T) {
	env := newTestEnv()
	env.seedAccount(1, "1000")
	env.seedAccount(2, "0")
	env.seedAccount(3, "0")
	env.seedAccount(4, "0")
	ctx := context.Background()

	// 100 / 3 = 33.33 rounded; the final activation takes the residual.
	check, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("100"), MaxActivations: 3,
	})
	require.NoError(t, err)
	require.True(t, check.AmountPerActivation.Equal(decimal.RequireFromString("33.33")))

	a1, err := env.checkEng.ActivateCheck(ctx, check.Code, 2, "")
	require.NoError(t, err)
	a2, err := env.checkEng.ActivateCheck(ctx, check.Code, 3, "")
	require.NoError(t, err)
	a3, err := env.checkEng.ActivateCheck(ctx, check.Code, 4, "")
	require.NoError(t, err)

	assert.True(t, a1.Equal(decimal.RequireFromString("33.33")))
	assert.True(t, a2.Equal(decimal.RequireFromString("33.33")))
	assert.True(t, a3.Equal(decimal.RequireFromString("33.34")), "last share carries the cent: %s", a3)
	assert.True(t, a1.Add(a2).Add(a3).Equal(decimal.RequireFromString("100")))
	assert.True(t, env.account(1).FrozenBalance.IsZero())
}

func TestCheckPartialDistributionThenExpiry(t *testing.T) {
	env := newTestEnv()
	env.seedAccount(1, "1000")
	env.seedAccount(2, "0")
	env.seedAccount(3, "0")
	ctx := context.Background()

	check, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("500"), MaxActivations: 5,
	})
	require.NoError(t, err)

	for _, userID := range []int64{2, 3} {
		got, err := env.checkEng.ActivateCheck(ctx, check.Code, userID, "")
		require.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString("100")))
	}

	creator := env.account(1)
	assert.True(t, creator.FrozenBalance.Equal(decimal.RequireFromString("300")))

	// Past the default 30 day expiry.
	env.clock.Advance(31 * 24 * time.Hour)
	n, err := env.checkEng.SweepExpiredChecks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := env.checks.GetByIDForUpdate(ctx, nil, check.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusExpired, stored.Status)
	assert.True(t, stored.RemainingAmount.IsZero())

	creator = env.account(1)
	assert.True(t, creator.FrozenBalance.IsZero())
	assert.True(t, creator.Balance.Equal(decimal.RequireFromString("1000")))
	assert.True(t, env.account(2).Balance.Equal(decimal.RequireFromString("100")))
	assert.True(t, env.account(3).Balance.Equal(decimal.RequireFromString("100")))

	// Activating an expired check fails cleanly.
	_, err = env.checkEng.ActivateCheck(ctx, check.Code, 3, "")
	assert.ErrorIs(t, err, ErrCheckNotActive)
}

func TestCancelCheck(t *testing.T) {
	env := newTestEnv()
	env.seedAccount(1, "1000")
	env.seedAccount(2, "0")
	ctx := context.Background()

	check, err := env.checkEng.CreateCheck(ctx, CreateCheckParams{
		CreatorID: 1, Type: models.CheckTypeMulti,
		TotalAmount: decimal.RequireFromString("200"), MaxActivations: 2,
	})
	require.NoError(t, err)

	_, err = env.checkEng.ActivateCheck(ctx, check.Code, 2, "")
	require.NoError(t, err)

	err = env.checkEng.CancelCheck(ctx, check.ID, 2)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.checkEng.CancelCheck(ctx, check.ID, 1))
	assert.ErrorIs(t, env.checkEng.CancelCheck(ctx, check.ID, 1), ErrInvalidState)

	creator := env.account(1)
	assert.True(t, creator.FrozenBalance.IsZero())
	assert.True(t, creator.Balance.Equal(decimal.RequireFromString("1000")))
}
