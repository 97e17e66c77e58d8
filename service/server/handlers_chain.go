package server

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/loanme/loanme/service/config"
	"github.com/loanme/loanme/service/loan"
	"github.com/loanme/loanme/service/solana"
)

// handleWalletBalance returns a handler that reports the service wallet's
// lamport balance.
// GET /api/wallet/balance
func handleWalletBalance(chain *solana.Client, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := cfg.AdminKey.PublicKey()
		balance, err := chain.Balance(r.Context(), address)
		if err != nil {
			logger.Error("failed to fetch service wallet balance", "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]interface{}{
			"address":  address.String(),
			"lamports": balance,
		}, http.StatusOK)
	})
}

// handleWalletAddress returns a handler that reports the service wallet's
// address.
// GET /api/wallet/address
func handleWalletAddress(cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"address": cfg.AdminKey.PublicKey().String(),
		}, http.StatusOK)
	})
}

// handleWalletTransfer returns a handler that sends lamports from the
// service wallet.
// POST /api/wallet/transfer
func handleWalletTransfer(chain *solana.Client, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			To       string `json:"to"`
			Lamports uint64 `json:"lamports"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.To); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Lamports == 0 {
			writeError(w, "lamports must be positive", http.StatusBadRequest)
			return
		}

		to, err := solanago.PublicKeyFromBase58(req.To)
		if err != nil {
			writeError(w, "invalid recipient address", http.StatusBadRequest)
			return
		}

		sig, err := chain.Transfer(r.Context(), cfg.AdminKey, to, req.Lamports)
		if err != nil {
			logger.Error("service wallet transfer failed", "to", req.To, "error", err)
			writeDomainError(w, err)
			return
		}

		logger.Info("service wallet transfer sent",
			"to", req.To,
			"lamports", req.Lamports,
			"signature", sig.String(),
		)
		writeJSON(w, map[string]interface{}{"signature": sig.String()}, http.StatusOK)
	})
}

// handleSolanaBalance returns a handler that reports any account's lamport
// balance.
// GET /api/solana/balance/{address}
func handleSolanaBalance(chain *solana.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		pubkey, err := solanago.PublicKeyFromBase58(address)
		if err != nil {
			writeError(w, "invalid address", http.StatusBadRequest)
			return
		}

		balance, err := chain.Balance(r.Context(), pubkey)
		if err != nil {
			logger.Error("failed to fetch balance", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]interface{}{
			"address":  address,
			"lamports": balance,
		}, http.StatusOK)
	})
}

// handleSolanaTransfer returns a handler that transfers lamports with a
// caller-supplied key.
// POST /api/solana/transfer
func handleSolanaTransfer(chain *solana.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FromSecret string `json:"from_secret"`
			To         string `json:"to"`
			Lamports   uint64 `json:"lamports"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.FromSecret == "" {
			writeError(w, "from_secret is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.To); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Lamports == 0 {
			writeError(w, "lamports must be positive", http.StatusBadRequest)
			return
		}

		from, err := solanago.PrivateKeyFromBase58(req.FromSecret)
		if err != nil {
			writeError(w, "invalid sender key", http.StatusBadRequest)
			return
		}
		to, err := solanago.PublicKeyFromBase58(req.To)
		if err != nil {
			writeError(w, "invalid recipient address", http.StatusBadRequest)
			return
		}

		sig, err := chain.Transfer(r.Context(), from, to, req.Lamports)
		if err != nil {
			logger.Error("transfer failed", "to", req.To, "error", err)
			writeDomainError(w, err)
			return
		}

		writeJSON(w, map[string]interface{}{"signature": sig.String()}, http.StatusOK)
	})
}

// handleDeploy returns a handler that deploys a program binary. The binary
// arrives base64-encoded; the deployment runs synchronously through the
// chunked write sequence and blocks until finalized.
// POST /api/deploy
func handleDeploy(orchestrator *loan.Orchestrator, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Program string `json:"program"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Program == "" {
			writeError(w, "program is required", http.StatusBadRequest)
			return
		}

		binary, err := base64.StdEncoding.DecodeString(req.Program)
		if err != nil {
			writeError(w, "program must be base64-encoded", http.StatusBadRequest)
			return
		}

		result, err := orchestrator.DeployProgram(r.Context(), loan.DeployParams{
			Payer:      cfg.AdminKey,
			Binary:     binary,
			ChunkSize:  cfg.DeployChunkSize,
			ChunkDelay: cfg.DeployChunkDelay,
		})
		if err != nil {
			logger.Error("deployment failed", "binary_size", len(binary), "error", err)
			writeDomainError(w, err)
			return
		}

		writeJSON(w, map[string]interface{}{
			"program_id": result.ProgramID.String(),
			"signature":  result.Signature.String(),
			"chunks":     result.Chunks,
		}, http.StatusOK)
	})
}

// handleDeployStatus returns a handler that reports the confirmation status
// of a deployment signature.
// GET /api/deploy/{signature}
func handleDeployStatus(orchestrator *loan.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig, err := solanago.SignatureFromBase58(r.PathValue("signature"))
		if err != nil {
			writeError(w, "invalid signature", http.StatusBadRequest)
			return
		}

		status, err := orchestrator.DeployStatus(r.Context(), sig)
		if err != nil {
			logger.Error("failed to fetch signature status", "signature", sig.String(), "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]interface{}{
			"signature": sig.String(),
			"status":    status,
		}, http.StatusOK)
	})
}

// handleProgramInfo returns a handler that reports whether a program account
// exists and how large it is.
// GET /api/program/{program_id}
func handleProgramInfo(chain *solana.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("program_id")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		pubkey, err := solanago.PublicKeyFromBase58(address)
		if err != nil {
			writeError(w, "invalid program id", http.StatusBadRequest)
			return
		}

		data, err := chain.AccountData(r.Context(), pubkey)
		if err != nil {
			if errors.Is(err, solana.ErrAccountNotFound) {
				writeJSON(w, map[string]interface{}{
					"program_id": address,
					"exists":     false,
				}, http.StatusOK)
				return
			}
			logger.Error("failed to fetch program account", "program_id", address, "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]interface{}{
			"program_id": address,
			"exists":     true,
			"data_len":   len(data),
		}, http.StatusOK)
	})
}
