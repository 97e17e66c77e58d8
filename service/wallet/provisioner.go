package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loanme/loanme/service/db"
)

// UserStore is the subset of store operations the provisioner needs.
// Satisfied by *db.Store.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*db.User, error)
	SetUserWallet(ctx context.Context, id int64, address, privateKey string) (*db.User, error)
}

// Provisioner mints custodial Solana keypairs for users through an external
// wallet API and persists them. Provisioning is idempotent: a user who
// already has a wallet keeps it; keys are never re-minted.
type Provisioner struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	store      UserStore
	logger     *slog.Logger
}

// NewProvisioner creates a wallet provisioner. If httpClient is nil a default
// with a 30s timeout is used.
func NewProvisioner(baseURL, apiKey string, httpClient *http.Client, store UserStore, logger *slog.Logger) *Provisioner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provisioner{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
	}
}

// keypairResponse is the custodial API's response shape.
type keypairResponse struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// EnsureWallet returns the user's wallet, minting one through the custodial
// API only when the user has none yet.
func (p *Provisioner) EnsureWallet(ctx context.Context, userID int64) (*db.User, error) {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.SolanaAddress != nil {
		p.logger.DebugContext(ctx, "user already has a wallet",
			"user_id", userID,
			"address", *user.SolanaAddress,
		)
		return user, nil
	}

	keypair, err := p.mintKeypair(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := p.store.SetUserWallet(ctx, userID, keypair.Address, keypair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to persist wallet: %w", err)
	}

	p.logger.InfoContext(ctx, "wallet provisioned",
		"user_id", userID,
		"address", keypair.Address,
	)
	return updated, nil
}

// mintKeypair asks the custodial API for a fresh keypair.
func (p *Provisioner) mintKeypair(ctx context.Context) (*keypairResponse, error) {
	body, err := json.Marshal(map[string]string{"network": "devnet"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/v1/keypairs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("wallet API returned status %d: %s", resp.StatusCode, string(payload))
	}

	var keypair keypairResponse
	if err := json.NewDecoder(resp.Body).Decode(&keypair); err != nil {
		return nil, fmt.Errorf("failed to decode wallet API response: %w", err)
	}
	if keypair.Address == "" || keypair.PrivateKey == "" {
		return nil, fmt.Errorf("wallet API returned incomplete keypair")
	}
	return &keypair, nil
}
