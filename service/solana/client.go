package solana

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/loanme/loanme/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)

	GetMinimumBalanceForRentExemption(
		ctx context.Context,
		dataSize uint64,
		commitment rpc.CommitmentType,
	) (uint64, error)
}

// Client provides chain operations for the loan service.
// It wraps the RPC client with domain-specific operations: balance lookups,
// native transfers, account fetches, and submit-then-confirm sequencing.
type Client struct {
	rpc     RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics

	confirmTimeout      time.Duration
	confirmPollInterval time.Duration
}

// ClientOptions configures confirmation polling.
type ClientOptions struct {
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

// NewClient creates a new Solana client.
// If m is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, opts ClientOptions, m *metrics.Metrics, logger *slog.Logger) *Client {
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = 60 * time.Second
	}
	if opts.ConfirmPollInterval == 0 {
		opts.ConfirmPollInterval = 2 * time.Second
	}
	return &Client{
		rpc:                 rpcClient,
		logger:              logger,
		metrics:             m,
		confirmTimeout:      opts.ConfirmTimeout,
		confirmPollInterval: opts.ConfirmPollInterval,
	}
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	result, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentFinalized)
	c.recordRPC("GetBalance", err, start)
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return result.Value, nil
}

// RentExemptBalance returns the minimum lamports an account of the given size
// must hold to persist without being purged.
func (c *Client) RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error) {
	start := time.Now()
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentFinalized)
	c.recordRPC("GetMinimumBalanceForRentExemption", err, start)
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return lamports, nil
}

// LatestBlockhash fetches a recent blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	result, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	c.recordRPC("GetLatestBlockhash", err, start)
	if err != nil {
		return solana.Hash{}, classifyRPCError(err)
	}
	return result.Value.Blockhash, nil
}

// AccountData fetches the raw data bytes of an on-chain account.
// Returns ErrAccountNotFound if the account does not exist.
func (c *Client) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	start := time.Now()
	result, err := c.rpc.GetAccountInfo(ctx, account)
	c.recordRPC("GetAccountInfo", err, start)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrAccountNotFound
		}
		return nil, classifyRPCError(err)
	}
	if result == nil || result.Value == nil {
		return nil, ErrAccountNotFound
	}
	return result.Value.Data.GetBinary(), nil
}

// SignAndSubmit assembles a transaction from the given instructions, signs it
// with the provided keys, submits it, and polls until it is confirmed.
// The payer is the first signer.
func (c *Client) SignAndSubmit(
	ctx context.Context,
	instructions []solana.Instruction,
	payer solana.PublicKey,
	signers []solana.PrivateKey,
) (solana.Signature, error) {
	blockhash, err := c.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, err
	}

	keyring := make(map[solana.PublicKey]solana.PrivateKey, len(signers))
	for _, key := range signers {
		keyring[key.PublicKey()] = key
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if pk, ok := keyring[key]; ok {
			return &pk
		}
		return nil
	}); err != nil {
		return solana.Signature{}, err
	}

	return c.SubmitAndConfirm(ctx, tx)
}

// SubmitAndConfirm sends a signed transaction and polls the signature status
// until it reaches confirmed/finalized commitment. A transaction that is not
// confirmed before the deadline yields ErrSubmissionTimeout; the submission is
// never retried.
func (c *Client) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	c.recordRPC("SendTransaction", err, start)
	if err != nil {
		return solana.Signature{}, classifyRPCError(err)
	}

	c.logger.DebugContext(ctx, "transaction submitted", "signature", sig.String())

	deadline := time.Now().Add(c.confirmTimeout)
	for time.Now().Before(deadline) {
		status, err := c.ConfirmationStatus(ctx, sig)
		if err != nil {
			return sig, err
		}
		if status == "confirmed" || status == "finalized" {
			c.logger.InfoContext(ctx, "transaction confirmed",
				"signature", sig.String(),
				"status", status,
			)
			return sig, nil
		}

		select {
		case <-ctx.Done():
			return sig, ctx.Err()
		case <-time.After(c.confirmPollInterval):
		}
	}

	c.logger.WarnContext(ctx, "transaction confirmation timed out", "signature", sig.String())
	return sig, ErrSubmissionTimeout
}

// ConfirmationStatus returns the current commitment level of a signature:
// "processed", "confirmed", "finalized", or "unknown" when the cluster has no
// record of it yet.
func (c *Client) ConfirmationStatus(ctx context.Context, sig solana.Signature) (string, error) {
	start := time.Now()
	statuses, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.recordRPC("GetSignatureStatuses", err, start)
	if err != nil {
		return "", classifyRPCError(err)
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return "unknown", nil
	}
	return string(statuses.Value[0].ConfirmationStatus), nil
}

// Transfer moves lamports from the given key to the recipient and waits for
// confirmation.
func (c *Client) Transfer(
	ctx context.Context,
	from solana.PrivateKey,
	to solana.PublicKey,
	lamports uint64,
) (solana.Signature, error) {
	ix := system.NewTransferInstruction(lamports, from.PublicKey(), to).Build()
	return c.SignAndSubmit(ctx, []solana.Instruction{ix}, from.PublicKey(), []solana.PrivateKey{from})
}

func (c *Client) recordRPC(method string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if isRateLimited(err) {
			c.metrics.RecordRateLimitHit()
		}
	}
	c.metrics.RecordRPCCall(method, status, time.Since(start).Seconds())
}

// classifyRPCError maps well-known RPC failure messages onto the package's
// error kinds so callers can switch on them.
func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient lamports") || strings.Contains(msg, "insufficient funds") {
		return ErrInsufficientFunds
	}
	return err
}

func isRateLimited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}

// IsRateLimited reports whether an RPC error looks like a 429 rate-limit
// response. The deploy loop uses this for its single fixed-delay re-attempt.
func IsRateLimited(err error) bool {
	return isRateLimited(err)
}
