package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client is the HTTP client for the loanme marketplace service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new marketplace client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SetToken sets the bearer token used for authenticated endpoints.
func (c *Client) SetToken(token string) {
	c.token = token
}

// User is a marketplace account. The server never returns key material for
// the custodial wallet, only the public address.
type User struct {
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Score         float64   `json:"score"`
	SolanaAddress *string   `json:"solana_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateAccount registers a new user.
func (c *Client) CreateAccount(ctx context.Context, username, password, email string) (*User, error) {
	var resp struct {
		User *User `json:"user"`
	}
	err := c.do(ctx, "POST", "/api/account", map[string]interface{}{
		"username": username,
		"password": password,
		"email":    email,
	}, http.StatusCreated, &resp)
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Login authenticates and stores the returned token on the client for
// subsequent authenticated calls.
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	var resp struct {
		Token string `json:"token"`
		User  *User  `json:"user"`
	}
	err := c.do(ctx, "POST", "/api/login", map[string]interface{}{
		"username": username,
		"password": password,
	}, http.StatusOK, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	c.logger.Debug("logged in", "user_id", resp.User.UserID)
	return resp.User, nil
}

// Token returns the bearer token from the last successful Login.
func (c *Client) Token() string {
	return c.token
}

// GenerateWallet provisions a custodial wallet for the authenticated user.
// Idempotent: an existing wallet is returned, never replaced.
func (c *Client) GenerateWallet(ctx context.Context, userID int64) (*User, error) {
	var resp struct {
		User *User `json:"user"`
	}
	path := fmt.Sprintf("/api/generate-wallet/%d", userID)
	if err := c.do(ctx, "POST", path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, http.StatusOK, nil)
}

// do issues a request and decodes the response body into out when the status
// matches. Request bodies are JSON-encoded; the bearer token is attached when
// present.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
