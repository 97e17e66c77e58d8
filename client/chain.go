package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
)

// Balance is a lamport balance for an address.
type Balance struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
}

// DeployResult describes a finalized program deployment.
type DeployResult struct {
	ProgramID string `json:"program_id"`
	Signature string `json:"signature"`
	Chunks    int    `json:"chunks"`
}

// ProgramInfo describes an on-chain program account.
type ProgramInfo struct {
	ProgramID string `json:"program_id"`
	Exists    bool   `json:"exists"`
	DataLen   int    `json:"data_len"`
}

// WalletBalance retrieves the service wallet's lamport balance.
func (c *Client) WalletBalance(ctx context.Context) (*Balance, error) {
	var balance Balance
	if err := c.do(ctx, "GET", "/api/wallet/balance", nil, http.StatusOK, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// WalletAddress retrieves the service wallet's address.
func (c *Client) WalletAddress(ctx context.Context) (string, error) {
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.do(ctx, "GET", "/api/wallet/address", nil, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

// WalletTransfer sends lamports from the service wallet. Requires
// authentication.
func (c *Client) WalletTransfer(ctx context.Context, to string, lamports uint64) (string, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	body := map[string]interface{}{"to": to, "lamports": lamports}
	if err := c.do(ctx, "POST", "/api/wallet/transfer", body, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.Signature, nil
}

// SolanaBalance retrieves any account's lamport balance.
func (c *Client) SolanaBalance(ctx context.Context, address string) (*Balance, error) {
	var balance Balance
	path := "/api/solana/balance/" + url.PathEscape(address)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// SolanaTransfer sends lamports with a caller-supplied key. Requires
// authentication.
func (c *Client) SolanaTransfer(ctx context.Context, fromSecret, to string, lamports uint64) (string, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	body := map[string]interface{}{
		"from_secret": fromSecret,
		"to":          to,
		"lamports":    lamports,
	}
	if err := c.do(ctx, "POST", "/api/solana/transfer", body, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.Signature, nil
}

// DeployProgram uploads a program binary for chunked deployment. The call
// blocks until the deployment is finalized, which can take minutes for large
// binaries. Requires authentication.
func (c *Client) DeployProgram(ctx context.Context, binary []byte) (*DeployResult, error) {
	var result DeployResult
	body := map[string]interface{}{
		"program": base64.StdEncoding.EncodeToString(binary),
	}
	if err := c.do(ctx, "POST", "/api/deploy", body, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeployStatus retrieves the confirmation status of a deployment signature.
func (c *Client) DeployStatus(ctx context.Context, signature string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/api/deploy/%s", url.PathEscape(signature))
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// GetProgramInfo retrieves whether a program account exists on-chain.
func (c *Client) GetProgramInfo(ctx context.Context, programID string) (*ProgramInfo, error) {
	var info ProgramInfo
	path := "/api/program/" + url.PathEscape(programID)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
