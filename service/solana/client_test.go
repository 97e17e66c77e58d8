package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRPC implements RPCClient with scriptable responses.
type fakeRPC struct {
	balance        uint64
	balanceErr     error
	sendErr        error
	sentCount      int
	statusSequence []rpc.ConfirmationStatusType
	stuckProcessed bool
	statusCalls    int
	accountValue   *rpc.Account
	accountErr     error
}

func (f *fakeRPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &rpc.GetBalanceResult{Value: f.balance}, nil
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash: solana.Hash{1, 2, 3},
		},
	}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	f.sentCount++
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return solana.Signature{9}, nil
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	var status *rpc.SignatureStatusesResult
	if f.stuckProcessed {
		status = &rpc.SignatureStatusesResult{
			ConfirmationStatus: rpc.ConfirmationStatusProcessed,
		}
	} else if f.statusCalls < len(f.statusSequence) {
		status = &rpc.SignatureStatusesResult{
			ConfirmationStatus: f.statusSequence[f.statusCalls],
		}
	}
	f.statusCalls++
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{status},
	}, nil
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return &rpc.GetAccountInfoResult{Value: f.accountValue}, nil
}

func (f *fakeRPC) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	return 890880, nil
}

func newTestClient(f *fakeRPC) *Client {
	return NewClient(f, ClientOptions{
		ConfirmTimeout:      200 * time.Millisecond,
		ConfirmPollInterval: 10 * time.Millisecond,
	}, nil, testLogger())
}

func TestBalance(t *testing.T) {
	c := newTestClient(&fakeRPC{balance: 5_000_000_000})
	balance, err := c.Balance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000), balance)
}

func TestBalanceClassifiesInsufficientFunds(t *testing.T) {
	c := newTestClient(&fakeRPC{balanceErr: errors.New("rpc: insufficient funds for fee")})
	_, err := c.Balance(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestAccountDataNotFound(t *testing.T) {
	c := newTestClient(&fakeRPC{accountValue: nil})
	_, err := c.AccountData(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestTransferConfirms(t *testing.T) {
	f := &fakeRPC{
		statusSequence: []rpc.ConfirmationStatusType{
			rpc.ConfirmationStatusProcessed,
			rpc.ConfirmationStatusConfirmed,
		},
	}
	c := newTestClient(f)

	from := solana.NewWallet()
	sig, err := c.Transfer(context.Background(), from.PrivateKey, solana.NewWallet().PublicKey(), 1000)
	require.NoError(t, err)
	assert.Equal(t, solana.Signature{9}, sig)
	assert.Equal(t, 1, f.sentCount, "a transaction is submitted exactly once")
	assert.GreaterOrEqual(t, f.statusCalls, 2, "polls until confirmed")
}

func TestSubmitTimesOutWithoutRetry(t *testing.T) {
	// Status never advances past processed.
	f := &fakeRPC{stuckProcessed: true}
	c := newTestClient(f)

	from := solana.NewWallet()
	_, err := c.Transfer(context.Background(), from.PrivateKey, solana.NewWallet().PublicKey(), 1000)
	assert.ErrorIs(t, err, ErrSubmissionTimeout)
	assert.Equal(t, 1, f.sentCount, "timed-out submissions are never retried")
}

func TestConfirmationStatusUnknown(t *testing.T) {
	c := newTestClient(&fakeRPC{})
	status, err := c.ConfirmationStatus(context.Background(), solana.Signature{1})
	require.NoError(t, err)
	assert.Equal(t, "unknown", status)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("server responded with 429 Too Many Requests")))
	assert.False(t, IsRateLimited(errors.New("connection refused")))
	assert.False(t, IsRateLimited(nil))
}
