package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prgram/backend/internal/auth"
	"github.com/prgram/backend/internal/config"
	"github.com/prgram/backend/internal/handlers"
	"github.com/prgram/backend/internal/middleware"
	"github.com/prgram/backend/internal/repository"
	"github.com/prgram/backend/internal/services"
)

type routeDeps struct {
	cfg         *config.Config
	accounts    *services.AccountService
	ledger      *repository.LedgerRepo
	payments    *services.PaymentIngestion
	authSvc     auth.Service
	authHandler *auth.Handler
	logger      *slog.Logger
}

// registerRoutes adds all HTTP endpoints to the given mux.
// Admin routes sit behind AdminAuth; payment webhooks authenticate
// themselves (HMAC signature / bot server callback).
func registerRoutes(mux *http.ServeMux, d routeDeps) {
	paymentHandler := handlers.NewPaymentHandler(d.payments, d.cfg.CryptoBotToken, d.logger)
	accountHandler := &handlers.AccountHandler{Accounts: d.accounts, Ledger: d.ledger, Logger: d.logger}
	adminHandler := &handlers.AdminHandler{Ledger: d.accounts, Logger: d.logger}

	adminAuth := middleware.AdminAuth(d.authSvc)

	// Payments
	mux.HandleFunc("POST /v1/payments/cryptobot", paymentHandler.CryptoBotWebhook)
	mux.HandleFunc("POST /v1/payments/stars", paymentHandler.StarsDeposit)

	// Accounts (read-only)
	mux.HandleFunc("GET /v1/accounts/{id}", accountHandler.GetAccount)
	mux.HandleFunc("GET /v1/accounts/{id}/ledger", accountHandler.GetLedger)

	// Admin
	mux.HandleFunc("POST /admin/auth/register", d.authHandler.Register)
	mux.HandleFunc("POST /admin/auth/login", d.authHandler.Login)
	mux.Handle("POST /admin/adjustments", adminAuth(http.HandlerFunc(adminHandler.CreateAdjustment)))
	mux.Handle("POST /admin/ban", adminAuth(http.HandlerFunc(adminHandler.Ban)))

	// Operational
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
