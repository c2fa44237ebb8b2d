package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/services"
)

// AccountReader is the subset of the account service needed by the handler.
type AccountReader interface {
	Get(ctx context.Context, id int64) (*models.Account, error)
}

// LedgerHistory lists a page of an account's ledger entries, newest first.
type LedgerHistory interface {
	ListByAccountID(ctx context.Context, accountID int64, limit, offset int) ([]*models.LedgerEntry, error)
}

// AccountHandler serves /v1/accounts endpoints.
type AccountHandler struct {
	Accounts AccountReader
	Ledger   LedgerHistory
	Logger   *slog.Logger
}

type accountResponse struct {
	*models.Account
	AvailableBalance string `json:"available_balance"`
}

// GetAccount handles GET /v1/accounts/{id}.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	acc, err := h.Accounts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get account", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{Account: acc, AvailableBalance: acc.AvailableBalance().String()})
}

// GetLedger handles GET /v1/accounts/{id}/ledger?limit=&offset=.
func (h *AccountHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := extractAccountID(r)
	if !ok {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, err := h.Ledger.ListByAccountID(r.Context(), id, limit, offset)
	if err != nil {
		h.Logger.Error("list ledger", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "limit": limit, "offset": offset})
}

// extractAccountID parses the numeric account id from the URL path.
// Supports paths like /v1/accounts/{id} and /v1/accounts/{id}/ledger.
func extractAccountID(r *http.Request) (int64, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
