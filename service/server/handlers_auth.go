package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loanme/loanme/service/auth"
	"github.com/loanme/loanme/service/config"
	"github.com/loanme/loanme/service/db"
	"github.com/loanme/loanme/service/wallet"
)

// userResponse is the API shape of a user. The password hash and custodial
// private key never leave the server.
type userResponse struct {
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Score         float64   `json:"score"`
	SolanaAddress *string   `json:"solana_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func userToResponse(u *db.User) userResponse {
	return userResponse{
		UserID:        u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Score:         u.Score,
		SolanaAddress: u.SolanaAddress,
		CreatedAt:     u.CreatedAt,
	}
}

// handleCreateAccount returns a handler that registers a new user.
// POST /api/account
func handleCreateAccount(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Email    string `json:"email"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" {
			writeError(w, "username is required", http.StatusBadRequest)
			return
		}
		if len(req.Password) < 8 {
			writeError(w, "password must be at least 8 characters", http.StatusBadRequest)
			return
		}
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			writeError(w, "a valid email is required", http.StatusBadRequest)
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			logger.Error("failed to hash password", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		user, err := store.CreateUser(r.Context(), db.CreateUserParams{
			Username:     req.Username,
			PasswordHash: hash,
			Email:        req.Email,
		})
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				writeError(w, "username or email already taken", http.StatusBadRequest)
				return
			}
			logger.Error("failed to create user", "username", req.Username, "error", err)
			writeError(w, "failed to create account", http.StatusInternalServerError)
			return
		}

		logger.Info("account created", "user_id", user.ID, "username", user.Username)
		writeJSON(w, map[string]interface{}{"user": userToResponse(user)}, http.StatusCreated)
	})
}

// handleLogin returns a handler that verifies credentials and issues a JWT.
// POST /api/login
func handleLogin(store *db.Store, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, "username and password are required", http.StatusBadRequest)
			return
		}

		user, err := store.GetUserByUsername(r.Context(), req.Username)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				// Same response as a bad password so usernames can't be probed.
				writeError(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			logger.Error("failed to look up user", "username", req.Username, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if !auth.CheckPassword(user.PasswordHash, req.Password) {
			writeError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		token, err := auth.GenerateToken(user.ID, cfg.JWTSecret, cfg.JWTValidity)
		if err != nil {
			logger.Error("failed to generate token", "user_id", user.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
		writeJSON(w, map[string]interface{}{
			"token": token,
			"user":  userToResponse(user),
		}, http.StatusOK)
	})
}

// handleGenerateWallet returns a handler that provisions a custodial wallet
// for a user. Idempotent: an existing wallet is returned, never re-minted.
// POST /api/generate-wallet/{user_id}
func handleGenerateWallet(provisioner *wallet.Provisioner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
		if err != nil {
			writeError(w, "invalid user id", http.StatusBadRequest)
			return
		}

		callerID, ok := authenticatedUserID(r)
		if !ok || callerID != userID {
			writeError(w, "cannot provision a wallet for another user", http.StatusForbidden)
			return
		}

		user, err := provisioner.EnsureWallet(r.Context(), userID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "user not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to provision wallet", "user_id", userID, "error", err)
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}

		writeJSON(w, map[string]interface{}{"user": userToResponse(user)}, http.StatusOK)
	})
}
