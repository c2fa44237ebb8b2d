package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/prgram/backend/internal/auth"
	"github.com/prgram/backend/internal/clock"
	"github.com/prgram/backend/internal/config"
	"github.com/prgram/backend/internal/jobs"
	"github.com/prgram/backend/internal/repository"
	"github.com/prgram/backend/internal/services"
	"github.com/prgram/backend/internal/tiers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	db := repository.NewDB(pool)
	accountRepo := repository.NewAccountRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	executionRepo := repository.NewExecutionRepo(pool)
	checkRepo := repository.NewCheckRepo(pool)

	// Ledger core and the engines on top of it
	clk := clock.System()
	table := tiers.Default()
	accountSvc := services.NewAccountService(db, accountRepo, ledgerRepo, table, clk, logger)
	escrow := services.NewEscrowEngine(db, accountSvc, taskRepo, executionRepo, clk, logger)
	checks := services.NewCheckEngine(db, accountSvc, checkRepo, clk, logger)
	payments := services.NewPaymentIngestion(db, accountSvc, ledgerRepo, logger)

	// Referral commissions ride on reward payouts, after commit.
	referrals := services.NewReferralProcessor(accountSvc, accountRepo, logger)
	escrow.AddRewardHook(referrals)

	// Admin auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	// Expiry sweeps on the river queue
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewSweepTasksWorker(escrow, logger))
	river.AddWorker(workers, jobs.NewSweepExecutionsWorker(escrow, logger))
	river.AddWorker(workers, jobs.NewSweepChecksWorker(checks, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: jobs.Periodic(cfg.SweepInterval),
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	registerRoutes(mux, routeDeps{
		cfg:         cfg,
		accounts:    accountSvc,
		ledger:      ledgerRepo,
		payments:    payments,
		authSvc:     authSvc,
		authHandler: authHandler,
		logger:      logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (runs the periodic sweeps)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
