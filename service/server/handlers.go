package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/loanme/loanme/service/auth"
	"github.com/loanme/loanme/service/db"
	"github.com/loanme/loanme/service/loan"
	"github.com/loanme/loanme/service/solana"
)

const (
	maxRequestBodySize = 16 << 20 // 16MB - deploys carry base64 program binaries
	maxAddressLength   = 100      // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

type contextKey string

const userIDKey contextKey = "user_id"

// requireAuth returns middleware that validates the Bearer token and stores
// the authenticated user id in the request context.
func requireAuth(jwtSecret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			userID, err := auth.UserIDFromToken(token, jwtSecret)
			if err != nil {
				logger.Debug("token rejected", "error", err)
				writeError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticatedUserID returns the user id stored by requireAuth.
func authenticatedUserID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(userIDKey).(int64)
	return id, ok
}

// writeJSON writes a success envelope around the given payload fields.
func writeJSON(w http.ResponseWriter, data map[string]interface{}, statusCode int) {
	body := map[string]interface{}{"success": true}
	for k, v := range data {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// writeDomainError maps error kinds onto HTTP status codes and writes the
// response. Unclassified errors become 502s for chain/upstream failures and
// 500s otherwise.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, loan.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, loan.ErrUnauthorized):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, loan.ErrLoanInactive),
		errors.Is(err, loan.ErrInvalidAddress),
		errors.Is(err, db.ErrInvalidTransition),
		errors.Is(err, db.ErrNegativeAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, solana.ErrInsufficientFunds):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, solana.ErrAccountNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, solana.ErrSubmissionTimeout):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeJSON decodes a request body into dst, bounding the body size.
func decodeJSON(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}
