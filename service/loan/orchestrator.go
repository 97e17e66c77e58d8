package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/loanme/loanme/service/db"
	"github.com/loanme/loanme/service/metrics"
	"github.com/loanme/loanme/service/nats"
	solclient "github.com/loanme/loanme/service/solana"
)

// ChainClient is the subset of chain operations the orchestrator needs.
// Satisfied by *solana.Client; narrowed to an interface so tests can run
// against a fake chain.
type ChainClient interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error)
	AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	SignAndSubmit(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey, signers []solana.PrivateKey) (solana.Signature, error)
	ConfirmationStatus(ctx context.Context, sig solana.Signature) (string, error)
}

// Ledger is the subset of store operations used to reconcile chain state
// into the relational ledger. Satisfied by *db.Store.
type Ledger interface {
	GetTransactionByLoanAccount(ctx context.Context, loanAccount string) (*db.LoanTransaction, error)
	SetTransactionChainResult(ctx context.Context, id int64, txID, loanAccount string) (*db.LoanTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, status string) (*db.LoanTransaction, error)
	GetNextUnpaidPayment(ctx context.Context, transactionID int64) (*db.Payment, error)
	ApplyPaymentAmount(ctx context.Context, id int64, delta float64, blockchainPaymentID *string) (*db.Payment, error)
}

// Orchestrator drives the loan program: it derives loan addresses, builds and
// submits instructions, and reconciles confirmed chain state into the ledger.
type Orchestrator struct {
	chain     ChainClient
	store     Ledger
	publisher nats.Publisher
	programID solana.PublicKey
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// now is swappable in tests so address derivation is deterministic.
	now func() time.Time
}

// NewOrchestrator creates an Orchestrator. The store and publisher may be nil
// for chain-only callers (e.g. the CLI); reconciliation and event publishing
// are skipped when absent.
func NewOrchestrator(
	chain ChainClient,
	store Ledger,
	publisher nats.Publisher,
	programID solana.PublicKey,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		chain:     chain,
		store:     store,
		publisher: publisher,
		programID: programID,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateLoanParams are the inputs to CreateLoan. TransactionID, when set,
// links the chain result back to a ledger transaction row.
type CreateLoanParams struct {
	LenderKey     solana.PrivateKey
	Borrower      solana.PublicKey
	Amount        uint64
	APY           uint64
	Duration      int64
	TransactionID *int64
}

// CreateLoanResult reports the confirmed chain transaction and the derived
// loan account address.
type CreateLoanResult struct {
	Signature       solana.Signature
	LoanAccount     solana.PublicKey
	TimestampMillis int64
}

// CreateLoan derives a fresh loan account address, funds it rent-exempt, and
// invokes the program's create_loan instruction, signing everything with the
// lender key. The call blocks until the transaction is confirmed, then
// persists the chain ids and publishes a loan_created event.
func (o *Orchestrator) CreateLoan(ctx context.Context, params CreateLoanParams) (*CreateLoanResult, error) {
	lender := params.LenderKey.PublicKey()
	timestamp := o.now().UnixMilli()

	loanAccount, seed, err := DeriveLoanAddress(lender, params.Borrower, timestamp, o.programID)
	if err != nil {
		return nil, err
	}

	rent, err := o.chain.RentExemptBalance(ctx, LoanAccountSpace)
	if err != nil {
		o.recordLoanCreated(err)
		return nil, fmt.Errorf("failed to fetch rent-exempt balance: %w", err)
	}

	createIx := NewCreateAccountWithSeedInstruction(
		lender, loanAccount, seed, rent, LoanAccountSpace, o.programID,
	)
	loanIx, err := NewCreateLoanInstruction(
		o.programID, loanAccount, lender, params.Borrower,
		params.Amount, params.APY, params.Duration, timestamp,
	)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "creating loan on-chain",
		"lender", lender.String(),
		"borrower", params.Borrower.String(),
		"loan_account", loanAccount.String(),
		"amount", params.Amount,
	)

	sig, err := o.chain.SignAndSubmit(
		ctx,
		[]solana.Instruction{createIx, loanIx},
		lender,
		[]solana.PrivateKey{params.LenderKey},
	)
	o.recordLoanCreated(err)
	if err != nil {
		return nil, fmt.Errorf("failed to submit create_loan: %w", err)
	}

	if o.store != nil && params.TransactionID != nil {
		if _, err := o.store.SetTransactionChainResult(ctx, *params.TransactionID, sig.String(), loanAccount.String()); err != nil {
			// The chain write succeeded; report the mismatch rather than
			// failing the whole call.
			o.logger.ErrorContext(ctx, "failed to persist chain result",
				"transaction_id", *params.TransactionID,
				"signature", sig.String(),
				"error", err,
			)
		}
	}

	o.publishEvent(ctx, &nats.LoanEvent{
		EventType:       nats.EventLoanCreated,
		LoanAccount:     loanAccount.String(),
		Signature:       sig.String(),
		LenderAddress:   lender.String(),
		BorrowerAddress: params.Borrower.String(),
		Amount:          params.Amount,
		IsActive:        true,
		TransactionID:   params.TransactionID,
		PublishedAt:     time.Now().UTC(),
	})

	return &CreateLoanResult{
		Signature:       sig,
		LoanAccount:     loanAccount,
		TimestampMillis: timestamp,
	}, nil
}

// MakePaymentParams are the inputs to MakePayment.
type MakePaymentParams struct {
	LoanAccount solana.PublicKey
	BorrowerKey solana.PrivateKey
	Lender      solana.PublicKey
	Amount      uint64
}

// MakePaymentResult reports the confirmed payment and the loan state after
// the payment landed.
type MakePaymentResult struct {
	Signature solana.Signature
	Loan      *LoanAccount
}

// MakePayment submits a payment against an active loan. The on-chain record
// is fetched first: an inactive loan fails with ErrLoanInactive, and a caller
// whose key is not the stored borrower fails with ErrUnauthorized, before any
// transaction is built. After confirmation the record is re-fetched and its
// paid_amount / is_active are reconciled into the ledger.
func (o *Orchestrator) MakePayment(ctx context.Context, params MakePaymentParams) (*MakePaymentResult, error) {
	account, err := o.FetchLoan(ctx, params.LoanAccount)
	if err != nil {
		return nil, err
	}

	if !account.IsActive {
		return nil, ErrLoanInactive
	}
	borrower := params.BorrowerKey.PublicKey()
	if !borrower.Equals(account.Borrower) {
		return nil, ErrUnauthorized
	}
	if !params.Lender.Equals(account.Lender) {
		return nil, fmt.Errorf("%w: lender does not match loan record", ErrInvalidAddress)
	}

	ix, err := NewMakePaymentInstruction(
		o.programID, params.LoanAccount, borrower, params.Lender, params.Amount,
	)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "submitting loan payment",
		"loan_account", params.LoanAccount.String(),
		"borrower", borrower.String(),
		"amount", params.Amount,
	)

	sig, err := o.chain.SignAndSubmit(
		ctx,
		[]solana.Instruction{ix},
		borrower,
		[]solana.PrivateKey{params.BorrowerKey},
	)
	o.recordPayment(err)
	if err != nil {
		return nil, fmt.Errorf("failed to submit make_payment: %w", err)
	}

	updated, err := o.FetchLoan(ctx, params.LoanAccount)
	if err != nil {
		// Payment confirmed but the refetch failed; surface the stale record.
		o.logger.WarnContext(ctx, "failed to refetch loan after payment",
			"loan_account", params.LoanAccount.String(),
			"error", err,
		)
		updated = account
	}

	o.reconcilePayment(ctx, params.LoanAccount.String(), sig.String(), params.Amount, updated)

	eventType := nats.EventLoanPayment
	if !updated.IsActive {
		eventType = nats.EventLoanClosed
	}
	o.publishEvent(ctx, &nats.LoanEvent{
		EventType:       eventType,
		LoanAccount:     params.LoanAccount.String(),
		Signature:       sig.String(),
		LenderAddress:   updated.Lender.String(),
		BorrowerAddress: updated.Borrower.String(),
		Amount:          updated.Amount,
		PaidAmount:      updated.PaidAmount,
		IsActive:        updated.IsActive,
		PublishedAt:     time.Now().UTC(),
	})

	return &MakePaymentResult{Signature: sig, Loan: updated}, nil
}

// FetchLoan fetches and decodes the on-chain loan record at the given
// address. Returns ErrNotFound when the account does not exist.
func (o *Orchestrator) FetchLoan(ctx context.Context, address solana.PublicKey) (*LoanAccount, error) {
	data, err := o.chain.AccountData(ctx, address)
	if err != nil {
		if errors.Is(err, solclient.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch loan account: %w", err)
	}
	return DecodeLoanAccount(data)
}

// reconcilePayment applies a confirmed on-chain payment to the ledger: the
// next unpaid installment absorbs the amount, and the transaction is closed
// when the chain record went inactive.
func (o *Orchestrator) reconcilePayment(ctx context.Context, loanAccount, sig string, amount uint64, updated *LoanAccount) {
	if o.store == nil {
		return
	}

	txn, err := o.store.GetTransactionByLoanAccount(ctx, loanAccount)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			o.logger.ErrorContext(ctx, "failed to look up ledger transaction",
				"loan_account", loanAccount,
				"error", err,
			)
		}
		return
	}

	payment, err := o.store.GetNextUnpaidPayment(ctx, txn.ID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			o.logger.ErrorContext(ctx, "failed to find unpaid installment",
				"transaction_id", txn.ID,
				"error", err,
			)
		}
	} else {
		if _, err := o.store.ApplyPaymentAmount(ctx, payment.ID, float64(amount), &sig); err != nil {
			o.logger.ErrorContext(ctx, "failed to apply payment to ledger",
				"payment_id", payment.ID,
				"error", err,
			)
		}
	}

	if !updated.IsActive {
		if _, err := o.store.UpdateTransactionStatus(ctx, txn.ID, "completed"); err != nil {
			o.logger.ErrorContext(ctx, "failed to complete ledger transaction",
				"transaction_id", txn.ID,
				"error", err,
			)
		}
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, event *nats.LoanEvent) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishLoanEvent(ctx, event)
	if o.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordNATSPublish(status)
	}
	if err != nil {
		// Events are best-effort; the chain and ledger are authoritative.
		o.logger.ErrorContext(ctx, "failed to publish loan event",
			"event_type", event.EventType,
			"loan_account", event.LoanAccount,
			"error", err,
		)
	}
}

func (o *Orchestrator) recordLoanCreated(err error) {
	if o.metrics == nil {
		return
	}
	if err != nil {
		o.metrics.RecordLoanCreated("error")
		return
	}
	o.metrics.RecordLoanCreated("success")
}

func (o *Orchestrator) recordPayment(err error) {
	if o.metrics == nil {
		return
	}
	if err != nil {
		o.metrics.RecordPayment("error")
		return
	}
	o.metrics.RecordPayment("success")
}
