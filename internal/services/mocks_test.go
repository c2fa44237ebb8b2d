package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/clock"
	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/tiers"
)

// memDB serializes transactions with a single mutex, standing in for
// the row locks the real pool takes. fn receives a nil tx; the mock
// repositories ignore it.
type memDB struct {
	mu sync.Mutex
}

func (d *memDB) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(nil)
}

type memAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[int64]*models.Account)}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func (m *memAccounts) put(a *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = copyAccount(a)
}

func (m *memAccounts) Create(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = copyAccount(a)
	return nil
}

func (m *memAccounts) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyAccount(a), nil
}

func (m *memAccounts) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Account, error) {
	return m.GetByID(ctx, id)
}

func (m *memAccounts) UpdateBalances(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = copyAccount(a)
	return nil
}

func (m *memAccounts) UpdateProfile(ctx context.Context, a *models.Account) error {
	return m.UpdateBalances(ctx, nil, a)
}

func (m *memAccounts) SetBanned(ctx context.Context, id int64, banned bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	a.IsBanned = banned
	a.BanReason = reason
	return nil
}

type memLedger struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
	// staleReads makes that many in-tx external-reference lookups miss,
	// standing in for a snapshot taken before a concurrent commit.
	staleReads int
}

func (m *memLedger) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Kind == models.EntryDeposit && e.ExternalReference != nil {
		for _, existing := range m.entries {
			if existing.Kind == models.EntryDeposit && existing.ExternalReference != nil && *existing.ExternalReference == *e.ExternalReference {
				return &pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_external_reference_key"}
			}
		}
	}
	c := *e
	m.entries = append(m.entries, &c)
	return nil
}

func (m *memLedger) GetByExternalReference(ctx context.Context, ref string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Kind == models.EntryDeposit && e.ExternalReference != nil && *e.ExternalReference == ref {
			c := *e
			return &c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memLedger) GetByExternalReferenceTx(ctx context.Context, tx pgx.Tx, ref string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	if m.staleReads > 0 {
		m.staleReads--
		m.mu.Unlock()
		return nil, pgx.ErrNoRows
	}
	m.mu.Unlock()
	return m.GetByExternalReference(ctx, ref)
}

// sumAmounts mirrors the reconciliation query.
func (m *memLedger) sumAmounts(accountID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, e := range m.entries {
		if e.AccountID == accountID {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func (m *memLedger) countKind(accountID int64, kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.AccountID == accountID && e.Kind == kind {
			n++
		}
	}
	return n
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: make(map[uuid.UUID]*models.Task)}
}

func (m *memTasks) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.tasks[t.ID] = &c
	return nil
}

func (m *memTasks) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *t
	return &c, nil
}

func (m *memTasks) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return m.GetByID(ctx, id)
}

func (m *memTasks) UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return pgx.ErrNoRows
	}
	c := *t
	m.tasks[t.ID] = &c
	return nil
}

func (m *memTasks) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, t := range m.tasks {
		open := t.Status == models.TaskStatusActive || t.Status == models.TaskStatusPaused
		if open && t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

type memExecutions struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*models.TaskExecution
}

func newMemExecutions() *memExecutions {
	return &memExecutions{executions: make(map[uuid.UUID]*models.TaskExecution)}
}

func (m *memExecutions) CreateTx(ctx context.Context, tx pgx.Tx, e *models.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.executions[e.ID] = &c
	return nil
}

func (m *memExecutions) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *e
	return &c, nil
}

func (m *memExecutions) Transition(ctx context.Context, tx pgx.Tx, e *models.TaskExecution, from string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.executions[e.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	c := *e
	m.executions[e.ID] = &c
	return true, nil
}

func (m *memExecutions) HasNonRejected(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.TaskID == taskID && e.UserID == userID &&
			e.Status != models.ExecutionStatusRejected && e.Status != models.ExecutionStatusExpired {
			return true, nil
		}
	}
	return false, nil
}

func (m *memExecutions) ClosePendingByTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, status string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.executions {
		if e.TaskID == taskID && e.Status == models.ExecutionStatusPending {
			e.Status = status
			t := at
			e.ReviewedAt = &t
			n++
		}
	}
	return n, nil
}

func (m *memExecutions) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, e := range m.executions {
		if e.Status == models.ExecutionStatusPending && e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

type memChecks struct {
	mu          sync.Mutex
	checks      map[uuid.UUID]*models.Check
	activations []*models.CheckActivation
}

func newMemChecks() *memChecks {
	return &memChecks{checks: make(map[uuid.UUID]*models.Check)}
}

func (m *memChecks) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.checks[c.ID] = &cp
	return nil
}

func (m *memChecks) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checks {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memChecks) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *memChecks) UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[c.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *c
	m.checks[c.ID] = &cp
	return nil
}

func (m *memChecks) InsertActivationTx(ctx context.Context, tx pgx.Tx, a *models.CheckActivation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.activations = append(m.activations, &cp)
	return nil
}

func (m *memChecks) CountActivationsByUser(ctx context.Context, tx pgx.Tx, checkID uuid.UUID, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.activations {
		if a.CheckID == checkID && a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memChecks) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, c := range m.checks {
		if c.Status == models.CheckStatusActive && c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

// testEnv wires an AccountService and both engines against the mocks.
type testEnv struct {
	db         *memDB
	accounts   *memAccounts
	entries    *memLedger
	tasks      *memTasks
	executions *memExecutions
	checks     *memChecks
	clock      *clock.FakeClock
	ledger     *AccountService
	escrow     *EscrowEngine
	checkEng   *CheckEngine
	payments   *PaymentIngestion
}

func newTestEnv() *testEnv {
	env := &testEnv{
		db:         &memDB{},
		accounts:   newMemAccounts(),
		entries:    &memLedger{},
		tasks:      newMemTasks(),
		executions: newMemExecutions(),
		checks:     newMemChecks(),
		clock:      clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.ledger = NewAccountService(env.db, env.accounts, env.entries, tiers.Default(), env.clock, logger)
	env.escrow = NewEscrowEngine(env.db, env.ledger, env.tasks, env.executions, env.clock, logger)
	env.checkEng = NewCheckEngine(env.db, env.ledger, env.checks, env.clock, logger)
	env.payments = NewPaymentIngestion(env.db, env.ledger, env.entries, logger)
	return env
}

func (env *testEnv) seedAccount(id int64, balance string) *models.Account {
	bal := decimal.RequireFromString(balance)
	acc := &models.Account{
		ID:   id,
		Tier: tiers.Default().ForBalance(bal, false),
	}
	env.accounts.put(acc)
	// Seed through the ledger so balance == sum(entry amounts) holds for
	// seeded accounts and reconciliation assertions stay meaningful.
	if bal.IsPositive() {
		if _, err := env.ledger.Credit(context.Background(), id, bal, models.EntryAdminAdjustment, nil, "seed balance"); err != nil {
			panic(err)
		}
	}
	return env.account(id)
}

func (env *testEnv) account(id int64) *models.Account {
	acc, err := env.accounts.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return acc
}
