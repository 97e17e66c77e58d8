package solana

import "errors"

var (
	// ErrSubmissionTimeout is returned when a submitted transaction does not
	// reach the requested commitment level before the confirmation deadline.
	// Callers are expected to surface this; the client never retries a
	// submission on its own.
	ErrSubmissionTimeout = errors.New("transaction confirmation timed out")

	// ErrInsufficientFunds is returned when the RPC rejects a transaction
	// because the payer cannot cover the transfer and/or rent.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound is returned when the requested account does not
	// exist on-chain.
	ErrAccountNotFound = errors.New("account not found")
)
