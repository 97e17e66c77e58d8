package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/loanme/loanme/service/config"
	"github.com/loanme/loanme/service/db"
	"github.com/loanme/loanme/service/loan"
	"github.com/loanme/loanme/service/metrics"
	natspkg "github.com/loanme/loanme/service/nats"
	"github.com/loanme/loanme/service/server"
	"github.com/loanme/loanme/service/solana"
	"github.com/loanme/loanme/service/temporal"
	"github.com/loanme/loanme/service/wallet"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Run pending migrations before serving traffic
	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	solanaClient := solana.NewClient(solanaRPC, solana.ClientOptions{
		ConfirmTimeout:      cfg.ConfirmTimeout,
		ConfirmPollInterval: cfg.ConfirmPollInterval,
	}, metricsCollector, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// Initialize NATS JetStream publisher for loan lifecycle events
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// The orchestrator owns on-chain loan operations and ledger reconciliation
	orchestrator := loan.NewOrchestrator(
		solanaClient,
		store,
		publisher,
		cfg.LoanProgramID,
		metricsCollector,
		logger,
	)

	// Custodial wallet provisioner backed by the external wallet API
	provisioner := wallet.NewProvisioner(
		cfg.WalletAPIURL,
		cfg.WalletAPIKey,
		&http.Client{Timeout: 30 * time.Second},
		store,
		logger,
	)

	// Initialize Temporal client and ensure the overdue-payment sweep
	// schedule exists. Schedule creation is idempotent across restarts.
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to connect to temporal", "host", cfg.TemporalHost, "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	if err := temporalClient.CreateSweepSchedule(ctx, cfg.PaymentSweepInterval); err != nil {
		logger.Error("failed to create sweep schedule", "error", err)
		os.Exit(1)
	}
	logger.Info("sweep schedule ensured", "interval", cfg.PaymentSweepInterval)

	// Initialize HTTP server
	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		store,
		orchestrator,
		solanaClient,
		provisioner,
		metricsCollector,
		logger,
	)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"loan_program", cfg.LoanProgramID.String(),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
