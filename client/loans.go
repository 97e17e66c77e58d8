package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Loan is a marketplace post: an offer to lend or a request to borrow.
type Loan struct {
	PostID            int64     `json:"post_id"`
	UserID            int64     `json:"user_id"`
	PostType          string    `json:"post_type"`
	LoanAmount        float64   `json:"loan_amount"`
	InterestRate      float64   `json:"interest_rate"`
	PaymentScheduleID *int64    `json:"payment_schedule_id,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Transaction is the funding record created when a post is accepted.
type Transaction struct {
	TransactionID  int64     `json:"transaction_id"`
	LenderID       int64     `json:"lender_id"`
	BorrowerID     int64     `json:"borrower_id"`
	PostID         int64     `json:"post_id"`
	LoanAmount     float64   `json:"loan_amount"`
	InterestRate   float64   `json:"interest_rate"`
	BlockchainTxID *string   `json:"blockchain_tx_id,omitempty"`
	LoanAccount    *string   `json:"loan_account,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Payment is one installment of a funded loan.
type Payment struct {
	PaymentID           int64     `json:"payment_id"`
	TransactionID       int64     `json:"transaction_id"`
	DueDate             time.Time `json:"due_date"`
	AmountDue           float64   `json:"amount_due"`
	AmountPaid          float64   `json:"amount_paid"`
	PaymentStatus       string    `json:"payment_status"`
	BlockchainPaymentID *string   `json:"blockchain_payment_id,omitempty"`
}

// LoanDetail is a post together with its funding transaction and
// installments, when funded.
type LoanDetail struct {
	Loan        *Loan        `json:"loan"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Payments    []Payment    `json:"payments,omitempty"`
}

// AcceptResult is the outcome of accepting a post. LoanAccount and
// BlockchainTxID are set only when the loan was mirrored on-chain.
type AcceptResult struct {
	Loan           *Loan        `json:"loan"`
	Transaction    *Transaction `json:"transaction"`
	Payments       []Payment    `json:"payments"`
	LoanAccount    string       `json:"loan_account,omitempty"`
	BlockchainTxID string       `json:"blockchain_tx_id,omitempty"`
}

// CreateLoanParams are the fields of a new marketplace post.
type CreateLoanParams struct {
	PostType         string  `json:"post_type"`
	LoanAmount       float64 `json:"loan_amount"`
	InterestRate     float64 `json:"interest_rate"`
	Frequency        string  `json:"frequency"`
	DurationInMonths int32   `json:"duration_in_months"`
}

// CreateLoan posts a new loan offer or request. Requires authentication.
func (c *Client) CreateLoan(ctx context.Context, params CreateLoanParams) (*Loan, error) {
	var resp struct {
		Loan *Loan `json:"loan"`
	}
	if err := c.do(ctx, "POST", "/api/loans", params, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return resp.Loan, nil
}

// ListLoans retrieves marketplace posts, optionally filtered by status.
// A limit of 0 uses the server default.
func (c *Client) ListLoans(ctx context.Context, status string, limit int) ([]Loan, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/loans"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Loans []Loan `json:"loans"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Loans, nil
}

// GetLoan retrieves one post with its transaction and installments.
func (c *Client) GetLoan(ctx context.Context, id int64) (*LoanDetail, error) {
	var detail LoanDetail
	path := fmt.Sprintf("/api/loans/%d", id)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// AcceptLoan accepts an open post, funding the loan. Requires authentication;
// the caller takes the side opposite the poster.
func (c *Client) AcceptLoan(ctx context.Context, id int64) (*AcceptResult, error) {
	var result AcceptResult
	path := fmt.Sprintf("/api/loans/%d/accept", id)
	if err := c.do(ctx, "POST", path, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PayResult is the outcome of a loan payment. Ledger-only loans return the
// updated installment; chain-mirrored loans return the transaction signature
// and the loan account's paid total instead.
type PayResult struct {
	Payment    *Payment `json:"payment,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	PaidAmount uint64   `json:"paid_amount,omitempty"`
	IsActive   bool     `json:"is_active,omitempty"`
}

// PayLoan records a payment against a funded loan. Requires authentication;
// only the borrower may pay.
func (c *Client) PayLoan(ctx context.Context, id int64, amount float64) (*PayResult, error) {
	var result PayResult
	path := fmt.Sprintf("/api/loans/%d/pay", id)
	body := map[string]interface{}{"amount": amount}
	if err := c.do(ctx, "POST", path, body, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
