package nats

import (
	"time"
)

// Event types published to the LOANS stream.
const (
	EventLoanCreated = "loan_created"
	EventLoanPayment = "loan_payment"
	EventLoanClosed  = "loan_closed"
)

// LoanEvent represents a loan lifecycle event published to NATS.
// Events are published to the subject "loans.{loan_account}" in JetStream.
type LoanEvent struct {
	// EventType is one of the Event* constants.
	EventType string `json:"event_type"`

	// Chain identifiers
	LoanAccount string `json:"loan_account"`
	Signature   string `json:"signature"`

	// Loan parties
	LenderAddress   string `json:"lender_address"`
	BorrowerAddress string `json:"borrower_address"`

	// Amounts in lamports
	Amount     uint64 `json:"amount"`
	PaidAmount uint64 `json:"paid_amount"`
	IsActive   bool   `json:"is_active"`

	// Ledger linkage, when the event maps onto a tracked transaction.
	TransactionID *int64 `json:"transaction_id,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}
