package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/prgram/backend/internal/models"
	"github.com/prgram/backend/internal/services"
)

// PaymentService is the subset of payment ingestion needed by the handlers.
type PaymentService interface {
	Ingest(ctx context.Context, externalID string, accountID int64, gross, bonus decimal.Decimal) (*models.LedgerEntry, error)
}

// PaymentHandler serves /v1/payments endpoints.
type PaymentHandler struct {
	Payments PaymentService
	// webhookKey is SHA-256 of the CryptoBot API token, per their signing scheme.
	webhookKey []byte
	Logger     *slog.Logger
}

func NewPaymentHandler(payments PaymentService, cryptoBotToken string, logger *slog.Logger) *PaymentHandler {
	key := sha256.Sum256([]byte(cryptoBotToken))
	return &PaymentHandler{Payments: payments, webhookKey: key[:], Logger: logger}
}

// --- POST /v1/payments/cryptobot ---

type cryptoBotUpdate struct {
	UpdateID   int64            `json:"update_id"`
	UpdateType string           `json:"update_type"`
	Payload    cryptoBotInvoice `json:"payload"`
}

type cryptoBotInvoice struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
	// Payload carries what we attached at invoice creation.
	Payload string `json:"payload"`
}

type invoicePayload struct {
	AccountID int64  `json:"account_id"`
	Gram      string `json:"gram"`
	Bonus     string `json:"bonus"`
}

type depositResponse struct {
	EntryID string `json:"entry_id"`
	Amount  string `json:"amount"`
	Status  string `json:"status"`
}

// CryptoBotWebhook handles POST /v1/payments/cryptobot.
// The body is authenticated with HMAC-SHA256 over the raw bytes before
// anything is parsed; replays of an already-seen invoice are acknowledged
// with 200 so CryptoBot stops retrying.
func (h *PaymentHandler) CryptoBotWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"cannot read body"}`, http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("crypto-pay-api-signature")) {
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var update cryptoBotUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if update.UpdateType != "invoice_paid" {
		// Not a payment event; acknowledge and ignore.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var payload invoicePayload
	if err := json.Unmarshal([]byte(update.Payload.Payload), &payload); err != nil {
		h.Logger.Error("cryptobot invoice payload unreadable", "invoice_id", update.Payload.InvoiceID, "error", err)
		http.Error(w, `{"error":"invalid invoice payload"}`, http.StatusBadRequest)
		return
	}

	gross, err := decimal.NewFromString(payload.Gram)
	if err != nil {
		http.Error(w, `{"error":"invalid gram amount"}`, http.StatusBadRequest)
		return
	}
	bonus := decimal.Zero
	if payload.Bonus != "" {
		if bonus, err = decimal.NewFromString(payload.Bonus); err != nil {
			http.Error(w, `{"error":"invalid bonus amount"}`, http.StatusBadRequest)
			return
		}
	}

	externalID := fmt.Sprintf("cryptobot:%d", update.Payload.InvoiceID)
	h.ingest(w, r, externalID, payload.AccountID, gross, bonus)
}

// --- POST /v1/payments/stars ---

type starsDepositRequest struct {
	AccountID int64  `json:"account_id"`
	PaymentID string `json:"payment_id"`
	Package   string `json:"package"`
	Stars     int64  `json:"stars"`
}

// StarsDeposit handles POST /v1/payments/stars, the bot server callback
// after a successful Telegram Stars payment.
func (h *PaymentHandler) StarsDeposit(w http.ResponseWriter, r *http.Request) {
	var req starsDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.PaymentID == "" {
		http.Error(w, `{"error":"payment_id is required"}`, http.StatusBadRequest)
		return
	}

	gross, bonus, err := services.ResolveStarsDeposit(req.Package, req.Stars)
	if err != nil {
		http.Error(w, `{"error":"unknown package or stars mismatch"}`, http.StatusBadRequest)
		return
	}

	h.ingest(w, r, "stars:"+req.PaymentID, req.AccountID, gross, bonus)
}

func (h *PaymentHandler) ingest(w http.ResponseWriter, r *http.Request, externalID string, accountID int64, gross, bonus decimal.Decimal) {
	entry, err := h.Payments.Ingest(r.Context(), externalID, accountID, gross, bonus)
	switch {
	case errors.Is(err, services.ErrAlreadyProcessed):
		writeJSON(w, http.StatusOK, depositResponse{EntryID: entry.ID.String(), Amount: entry.Amount.String(), Status: "already_processed"})
	case errors.Is(err, services.ErrNotFound):
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidAmount):
		http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
	case err != nil:
		h.Logger.Error("payment ingest failed", "external_id", externalID, "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, depositResponse{EntryID: entry.ID.String(), Amount: entry.Amount.String(), Status: "credited"})
	}
}

func (h *PaymentHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.webhookKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
