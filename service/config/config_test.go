package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keypairJSON(t *testing.T) string {
	t.Helper()
	key := []byte(solana.NewWallet().PrivateKey)
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	raw, err := json.Marshal(values)
	require.NoError(t, err)
	return string(raw)
}

func validConfig() *Config {
	wallet := solana.NewWallet()
	return &Config{
		ServerAddr:          ":8080",
		DatabaseURL:         "postgres://localhost/loanme",
		SolanaRPCURL:        "https://api.devnet.solana.com",
		LoanProgramID:       wallet.PublicKey(),
		AdminKey:            wallet.PrivateKey,
		JWTSecret:           []byte("secret"),
		DeployChunkSize:     900,
		ConfirmTimeout:      60 * time.Second,
		ConfirmPollInterval: 2 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"missing rpc url", func(c *Config) { c.SolanaRPCURL = "" }},
		{"missing program id", func(c *Config) { c.LoanProgramID = solana.PublicKey{} }},
		{"missing admin key", func(c *Config) { c.AdminKey = nil }},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = nil }},
		{"zero chunk size", func(c *Config) { c.DeployChunkSize = 0 }},
		{"oversized chunk", func(c *Config) { c.DeployChunkSize = 5000 }},
		{"zero poll interval", func(c *Config) { c.ConfirmPollInterval = 0 }},
		{"timeout below poll interval", func(c *Config) { c.ConfirmTimeout = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseKeypairJSON(t *testing.T) {
	raw := keypairJSON(t)
	key, err := ParseKeypairJSON(raw)
	require.NoError(t, err)
	assert.Len(t, []byte(key), 64)
}

func TestParseKeypairJSONRejectsBadInput(t *testing.T) {
	_, err := ParseKeypairJSON("not json")
	assert.Error(t, err)

	_, err = ParseKeypairJSON("[1,2,3]")
	assert.Error(t, err)
}
