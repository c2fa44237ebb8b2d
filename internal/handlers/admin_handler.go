package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/middleware"
	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/services"
)

// AdminLedger is the subset of the ledger service needed by admin endpoints.
type AdminLedger interface {
	Credit(ctx context.Context, id int64, amount decimal.Decimal, kind string, ref *services.EntryRef, description string) (*models.LedgerEntry, error)
	Debit(ctx context.Context, id int64, amount decimal.Decimal, kind string, ref *services.EntryRef, description string) (*models.LedgerEntry, error)
	Ban(ctx context.Context, id int64, reason string) error
	Unban(ctx context.Context, id int64) error
}

// AdminHandler serves /admin endpoints. All routes sit behind JWT auth.
type AdminHandler struct {
	Ledger AdminLedger
	Logger *slog.Logger
}

// --- POST /admin/adjustments ---

type adjustmentRequest struct {
	AccountID int64  `json:"account_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

type adjustmentResponse struct {
	EntryID      string `json:"entry_id"`
	BalanceAfter string `json:"balance_after"`
}

// CreateAdjustment handles POST /admin/adjustments. A positive amount
// credits the account, a negative one debits it; the sign is the operator's
// intent, not two separate endpoints.
func (h *AdminHandler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	admin := middleware.AdminFromCtx(r.Context())
	if admin == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsZero() {
		http.Error(w, `{"error":"amount must be a non-zero decimal"}`, http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}

	description := "adjustment by " + admin.ID.String() + ": " + req.Reason
	var entry *models.LedgerEntry
	if amount.IsPositive() {
		entry, err = h.Ledger.Credit(r.Context(), req.AccountID, amount, models.EntryAdminAdjustment, nil, description)
	} else {
		entry, err = h.Ledger.Debit(r.Context(), req.AccountID, amount.Neg(), models.EntryAdminAdjustment, nil, description)
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, services.ErrInsufficientFunds):
		http.Error(w, `{"error":"insufficient available balance"}`, http.StatusUnprocessableEntity)
		return
	case err != nil:
		h.Logger.Error("adjustment failed", "account_id", req.AccountID, "admin_id", admin.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	h.Logger.Info("admin adjustment", "account_id", req.AccountID, "amount", amount, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, adjustmentResponse{EntryID: entry.ID.String(), BalanceAfter: entry.BalanceAfter.String()})
}

// --- POST /admin/ban ---

type banRequest struct {
	AccountID int64  `json:"account_id"`
	Reason    string `json:"reason"`
	Unban     bool   `json:"unban"`
}

// Ban handles POST /admin/ban. With unban=true the same endpoint lifts
// the ban.
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	admin := middleware.AdminFromCtx(r.Context())
	if admin == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	var err error
	if req.Unban {
		err = h.Ledger.Unban(r.Context(), req.AccountID)
	} else {
		if req.Reason == "" {
			http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
			return
		}
		err = h.Ledger.Ban(r.Context(), req.AccountID, req.Reason)
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	case err != nil:
		h.Logger.Error("ban update failed", "account_id", req.AccountID, "admin_id", admin.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	h.Logger.Info("ban updated", "account_id", req.AccountID, "unban", req.Unban, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
