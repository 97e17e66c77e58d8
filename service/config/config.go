package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
//
// The admin keypair is deliberately carried here rather than in a package-level
// variable: every component that signs with it receives the Config (or the key)
// at construction time.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL  string
	LoanProgramID solana.PublicKey
	AdminKey      solana.PrivateKey

	// Custodial wallet provider configuration
	WalletAPIURL string
	WalletAPIKey string

	// Auth configuration
	JWTSecret   []byte
	JWTValidity time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Deployment configuration
	DeployChunkSize  int
	DeployChunkDelay time.Duration

	// Confirmation polling configuration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Overdue payment sweep interval
	PaymentSweepInterval time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com")

	programID := os.Getenv("LOAN_PROGRAM_ID")
	if programID == "" {
		errs = append(errs, fmt.Errorf("LOAN_PROGRAM_ID is required"))
	} else {
		pk, err := solana.PublicKeyFromBase58(programID)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOAN_PROGRAM_ID: invalid base58 public key: %w", err))
		} else {
			cfg.LoanProgramID = pk
		}
	}

	// The admin keypair is the JSON byte-array format produced by
	// solana-keygen (e.g. "[12,34,...]").
	adminKey := os.Getenv("ADMIN_KEYPAIR")
	if adminKey == "" {
		errs = append(errs, fmt.Errorf("ADMIN_KEYPAIR is required"))
	} else {
		key, err := ParseKeypairJSON(adminKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("ADMIN_KEYPAIR: %w", err))
		} else {
			cfg.AdminKey = key
		}
	}

	// Custodial wallet provider
	cfg.WalletAPIURL = os.Getenv("WALLET_API_URL")
	if cfg.WalletAPIURL == "" {
		errs = append(errs, fmt.Errorf("WALLET_API_URL is required"))
	}
	cfg.WalletAPIKey = os.Getenv("WALLET_API_KEY")
	if cfg.WalletAPIKey == "" {
		errs = append(errs, fmt.Errorf("WALLET_API_KEY is required"))
	}

	// Auth configuration
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	cfg.JWTSecret = []byte(jwtSecret)

	jwtValidity, err := parseDuration("JWT_VALIDITY", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.JWTValidity = jwtValidity
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "loanme-payment-sweep")

	// Deployment configuration
	chunkSize, err := parseInt("DEPLOY_CHUNK_SIZE", 900)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DeployChunkSize = chunkSize
	}

	chunkDelay, err := parseDuration("DEPLOY_CHUNK_DELAY", "300ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DeployChunkDelay = chunkDelay
	}

	// Confirmation polling
	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	confirmPoll, err := parseDuration("CONFIRM_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = confirmPoll
	}

	sweepInterval, err := parseDuration("PAYMENT_SWEEP_INTERVAL", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PaymentSweepInterval = sweepInterval
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.LoanProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("LoanProgramID is required"))
	}

	if len(c.AdminKey) == 0 {
		errs = append(errs, fmt.Errorf("AdminKey is required"))
	}

	if len(c.JWTSecret) == 0 {
		errs = append(errs, fmt.Errorf("JWTSecret is required"))
	}

	if c.DeployChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("DeployChunkSize must be positive"))
	}

	// A transaction carries at most ~1232 bytes of payload; leave headroom
	// for the instruction envelope and signatures.
	if c.DeployChunkSize > 1000 {
		errs = append(errs, fmt.Errorf("DeployChunkSize cannot exceed 1000 bytes"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}

	if c.ConfirmTimeout < c.ConfirmPollInterval {
		errs = append(errs, fmt.Errorf("ConfirmTimeout (%v) cannot be less than ConfirmPollInterval (%v)",
			c.ConfirmTimeout, c.ConfirmPollInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ParseKeypairJSON parses a solana-keygen style JSON byte array into a
// private key. JSON number arrays don't unmarshal into []byte directly, so
// decode into ints and narrow.
func ParseKeypairJSON(raw string) (solana.PrivateKey, error) {
	var values []int
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("invalid keypair JSON: %w", err)
	}
	if len(values) != 64 {
		return nil, fmt.Errorf("invalid keypair length: expected 64 bytes, got %d", len(values))
	}
	key := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("invalid keypair byte at index %d: %d", i, v)
		}
		key[i] = byte(v)
	}
	return solana.PrivateKey(key), nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
