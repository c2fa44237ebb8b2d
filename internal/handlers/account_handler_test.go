package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/services"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubAccounts struct {
	acc *models.Account
	err error
}

func (s *stubAccounts) Get(_ context.Context, _ int64) (*models.Account, error) {
	return s.acc, s.err
}

type stubLedgerHistory struct {
	entries []*models.LedgerEntry

	gotLimit  int
	gotOffset int
}

func (s *stubLedgerHistory) ListByAccountID(_ context.Context, _ int64, limit, offset int) ([]*models.LedgerEntry, error) {
	s.gotLimit = limit
	s.gotOffset = offset
	return s.entries, nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGetAccount(t *testing.T) {
	acc := &models.Account{
		ID:            42,
		Balance:       decimal.RequireFromString("1000"),
		FrozenBalance: decimal.RequireFromString("300"),
	}
	h := &AccountHandler{Accounts: &stubAccounts{acc: acc}, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/42", nil)
	rec := httptest.NewRecorder()
	h.GetAccount(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{`"balance":"1000"`, `"frozen_balance":"300"`, `"available_balance":"700"`} {
		if !strings.Contains(body, want) {
			t.Errorf("response missing %s: %s", want, body)
		}
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	h := &AccountHandler{Accounts: &stubAccounts{err: services.ErrNotFound}, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/42", nil)
	rec := httptest.NewRecorder()
	h.GetAccount(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetAccount_BadID(t *testing.T) {
	h := &AccountHandler{Accounts: &stubAccounts{}, Logger: discardLogger()}

	for _, path := range []string{"/v1/accounts/abc", "/v1/accounts/-1", "/v1/accounts/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.GetAccount(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestGetLedger_ClampsPaging(t *testing.T) {
	history := &stubLedgerHistory{}
	h := &AccountHandler{Ledger: history, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/42/ledger?limit=9999&offset=-5", nil)
	rec := httptest.NewRecorder()
	h.GetLedger(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if history.gotLimit != 50 {
		t.Errorf("out-of-range limit should clamp to 50, got %d", history.gotLimit)
	}
	if history.gotOffset != 0 {
		t.Errorf("negative offset should clamp to 0, got %d", history.gotOffset)
	}
}
