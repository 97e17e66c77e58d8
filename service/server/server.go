package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loanme/loanme/service/config"
	"github.com/loanme/loanme/service/db"
	"github.com/loanme/loanme/service/loan"
	"github.com/loanme/loanme/service/metrics"
	"github.com/loanme/loanme/service/solana"
	"github.com/loanme/loanme/service/wallet"
)

// Server represents the HTTP server for the loan marketplace.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *db.Store
	orchestrator *loan.Orchestrator
	chain        *solana.Client
	provisioner  *wallet.Provisioner
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The orchestrator drives on-chain loan operations; the chain client serves
// raw balance/transfer endpoints; the provisioner mints custodial wallets.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(
	addr string,
	cfg *config.Config,
	store *db.Store,
	orchestrator *loan.Orchestrator,
	chain *solana.Client,
	provisioner *wallet.Provisioner,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		chain:        chain,
		provisioner:  provisioner,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the route mux. Exposed separately from Start so tests can
// drive the full routing stack with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	auth := requireAuth(s.cfg.JWTSecret, s.logger)

	// Account routes
	mux.Handle("POST /api/account", s.instrument("/api/account", handleCreateAccount(s.store, s.logger)))
	mux.Handle("POST /api/login", s.instrument("/api/login", handleLogin(s.store, s.cfg, s.logger)))
	mux.Handle("POST /api/generate-wallet/{user_id}", s.instrument("/api/generate-wallet", auth(handleGenerateWallet(s.provisioner, s.logger))))

	// Loan marketplace routes
	mux.Handle("GET /api/loans", s.instrument("/api/loans", handleListLoans(s.store, s.logger)))
	mux.Handle("GET /api/loans/{id}", s.instrument("/api/loans/{id}", handleGetLoan(s.store, s.logger)))
	mux.Handle("POST /api/loans", s.instrument("/api/loans", auth(handleCreateLoan(s.store, s.logger))))
	mux.Handle("POST /api/loans/{id}/accept", s.instrument("/api/loans/{id}/accept", auth(handleAcceptLoan(s.store, s.orchestrator, s.logger))))
	mux.Handle("POST /api/loans/{id}/pay", s.instrument("/api/loans/{id}/pay", auth(handlePayLoan(s.store, s.orchestrator, s.logger))))

	// Service wallet routes
	mux.Handle("GET /api/wallet/balance", s.instrument("/api/wallet/balance", handleWalletBalance(s.chain, s.cfg, s.logger)))
	mux.Handle("GET /api/wallet/address", s.instrument("/api/wallet/address", handleWalletAddress(s.cfg, s.logger)))
	mux.Handle("POST /api/wallet/transfer", s.instrument("/api/wallet/transfer", auth(handleWalletTransfer(s.chain, s.cfg, s.logger))))

	// Raw chain routes
	mux.Handle("GET /api/solana/balance/{address}", s.instrument("/api/solana/balance", handleSolanaBalance(s.chain, s.logger)))
	mux.Handle("POST /api/solana/transfer", s.instrument("/api/solana/transfer", auth(handleSolanaTransfer(s.chain, s.logger))))

	// Program deployment routes
	mux.Handle("POST /api/deploy", s.instrument("/api/deploy", auth(handleDeploy(s.orchestrator, s.cfg, s.logger))))
	mux.Handle("GET /api/deploy/{signature}", s.instrument("/api/deploy/{signature}", handleDeployStatus(s.orchestrator, s.logger)))
	mux.Handle("GET /api/program/{program_id}", s.instrument("/api/program", handleProgramInfo(s.chain, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(requestIDMiddleware(mux))
}

// instrument wraps a handler with HTTP request metrics when configured.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // deploys block through many chain round trips
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestIDMiddleware tags every request with an X-Request-ID, honoring one
// supplied by the caller so IDs propagate across services.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
