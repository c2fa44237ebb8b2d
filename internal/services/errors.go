package services

import "errors"

// Business failures surfaced to callers. Handlers map these to HTTP
// statuses; none of them means a bug.
var (
	// ErrInsufficientFunds is returned when a debit or freeze exceeds the
	// available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState is returned for a transition attempted from a
	// terminal or wrong state.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound is returned for an unknown account, task or check id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed is returned on an idempotency hit: the
	// operation already happened and the stored result is returned with
	// it. Callers treat it as success.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrConcurrencyConflict is returned when a concurrent mutation won
	// the race. Callers may retry a bounded number of times.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrInvalidAmount = errors.New("invalid amount")
	ErrAccountBanned = errors.New("account banned")
	ErrForbidden     = errors.New("forbidden")
)

// Check activation failures. Each one maps to a distinct user-facing
// message in the bot layer, so they stay separate sentinels.
var (
	ErrCheckNotActive   = errors.New("check not active")
	ErrCheckExpired     = errors.New("check expired")
	ErrWrongPassword    = errors.New("wrong check password")
	ErrAlreadyActivated = errors.New("check already activated by user")
	ErrSelfActivation   = errors.New("cannot activate own check")
	ErrIneligibleTier   = errors.New("tier too low")
)
