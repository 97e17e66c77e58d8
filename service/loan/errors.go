package loan

import "errors"

var (
	// ErrInvalidAddress is returned when a supplied address fails base58
	// decoding or does not match the on-chain record it is checked against.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnauthorized is returned when the caller's derived public key does
	// not match the borrower stored in the on-chain loan record.
	ErrUnauthorized = errors.New("caller is not the loan borrower")

	// ErrLoanInactive is returned when a payment is attempted against a loan
	// whose on-chain record is no longer active.
	ErrLoanInactive = errors.New("loan is not active")

	// ErrNotFound is returned when the loan account does not exist on-chain.
	ErrNotFound = errors.New("loan not found")
)
