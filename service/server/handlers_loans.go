package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/loanme/loanme/service/db"
	"github.com/loanme/loanme/service/loan"
)

// postResponse is the API shape of a marketplace post.
type postResponse struct {
	PostID            int64     `json:"post_id"`
	UserID            int64     `json:"user_id"`
	PostType          string    `json:"post_type"`
	LoanAmount        float64   `json:"loan_amount"`
	InterestRate      float64   `json:"interest_rate"`
	PaymentScheduleID *int64    `json:"payment_schedule_id,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

func postToResponse(p *db.Post) postResponse {
	return postResponse{
		PostID:            p.ID,
		UserID:            p.UserID,
		PostType:          p.PostType,
		LoanAmount:        p.LoanAmount,
		InterestRate:      p.InterestRate,
		PaymentScheduleID: p.PaymentScheduleID,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
	}
}

// transactionResponse is the API shape of a loan transaction.
type transactionResponse struct {
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

func transactionToResponse(t *db.LoanTransaction) transactionResponse {
	return transactionResponse{
		TransactionID:  t.ID,
		LenderID:       t.LenderID,
		BorrowerID:     t.BorrowerID,
		PostID:         t.PostID,
		LoanAmount:     t.LoanAmount,
		InterestRate:   t.InterestRate,
		BlockchainTxID: t.BlockchainTxID,
		LoanAccount:    t.LoanAccount,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
	}
}

// paymentResponse is the API shape of one installment.
type paymentResponse struct {
	PaymentID           int64     `json:"payment_id"`
	TransactionID       int64     `json:"transaction_id"`
	DueDate             time.Time `json:"due_date"`
	AmountDue           float64   `json:"amount_due"`
	AmountPaid          float64   `json:"amount_paid"`
	PaymentStatus       string    `json:"payment_status"`
	BlockchainPaymentID *string   `json:"blockchain_payment_id,omitempty"`
}

func paymentToResponse(p *db.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:           p.ID,
		TransactionID:       p.TransactionID,
		DueDate:             p.DueDate,
		AmountDue:           p.AmountDue,
		AmountPaid:          p.AmountPaid,
		PaymentStatus:       p.PaymentStatus,
		BlockchainPaymentID: p.BlockchainPaymentID,
	}
}

// handleListLoans returns a handler that lists marketplace posts.
// GET /api/loans?status={status}&limit={limit}
func handleListLoans(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		switch status {
		case "", "open", "funded", "closed":
		default:
			writeError(w, "status must be one of open, funded, closed", http.StatusBadRequest)
			return
		}

		var limit int32
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 32)
			if err != nil || parsed <= 0 {
				writeError(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		posts, err := store.ListPosts(r.Context(), db.ListPostsParams{Status: status, Limit: limit})
		if err != nil {
			logger.Error("failed to list posts", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]postResponse, len(posts))
		for i, p := range posts {
			resp[i] = postToResponse(p)
		}
		writeJSON(w, map[string]interface{}{"loans": resp}, http.StatusOK)
	})
}

// handleGetLoan returns a handler that retrieves one post, including the
// funding transaction and installment schedule once the post is funded.
// GET /api/loans/{id}
func handleGetLoan(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid loan id", http.StatusBadRequest)
			return
		}

		post, err := store.GetPost(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "loan not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get post", "post_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		body := map[string]interface{}{"loan": postToResponse(post)}

		txn, err := store.GetTransactionByPost(r.Context(), id)
		if err == nil {
			body["transaction"] = transactionToResponse(txn)
			payments, err := store.ListPaymentsByTransaction(r.Context(), txn.ID)
			if err == nil {
				resp := make([]paymentResponse, len(payments))
				for i, p := range payments {
					resp[i] = paymentToResponse(p)
				}
				body["payments"] = resp
			}
		} else if !errors.Is(err, db.ErrNotFound) {
			logger.Error("failed to get transaction for post", "post_id", id, "error", err)
		}

		writeJSON(w, body, http.StatusOK)
	})
}

// handleCreateLoan returns a handler that creates a marketplace post with its
// repayment schedule.
// POST /api/loans
func handleCreateLoan(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PostType         string  `json:"post_type"`
			LoanAmount       float64 `json:"loan_amount"`
			InterestRate     float64 `json:"interest_rate"`
			Frequency        string  `json:"frequency"`
			DurationInMonths int32   `json:"duration_in_months"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		userID, _ := authenticatedUserID(r)

		if req.PostType != "borrow" && req.PostType != "lend" {
			writeError(w, "post_type must be borrow or lend", http.StatusBadRequest)
			return
		}
		if req.LoanAmount <= 0 {
			writeError(w, "loan_amount must be positive", http.StatusBadRequest)
			return
		}
		if req.InterestRate < 0 {
			writeError(w, "interest_rate cannot be negative", http.StatusBadRequest)
			return
		}
		switch req.Frequency {
		case "weekly", "bi-weekly", "monthly":
		default:
			writeError(w, "frequency must be one of weekly, bi-weekly, monthly", http.StatusBadRequest)
			return
		}
		if req.DurationInMonths <= 0 {
			writeError(w, "duration_in_months must be positive", http.StatusBadRequest)
			return
		}

		schedule, err := store.CreatePaymentSchedule(r.Context(), req.Frequency, req.DurationInMonths)
		if err != nil {
			logger.Error("failed to create payment schedule", "error", err)
			writeError(w, "failed to create loan", http.StatusInternalServerError)
			return
		}

		post, err := store.CreatePost(r.Context(), db.CreatePostParams{
			UserID:            userID,
			PostType:          req.PostType,
			LoanAmount:        req.LoanAmount,
			InterestRate:      req.InterestRate,
			PaymentScheduleID: &schedule.ID,
		})
		if err != nil {
			logger.Error("failed to create post", "user_id", userID, "error", err)
			writeError(w, "failed to create loan", http.StatusInternalServerError)
			return
		}

		logger.Info("loan post created",
			"post_id", post.ID,
			"user_id", userID,
			"post_type", post.PostType,
			"amount", post.LoanAmount,
		)
		writeJSON(w, map[string]interface{}{"loan": postToResponse(post)}, http.StatusCreated)
	})
}

// handleAcceptLoan returns a handler that funds an open post. The ledger
// transaction and installment rows are created atomically; when both parties
// hold custodial wallets the loan is also mirrored on-chain.
// POST /api/loans/{id}/accept
func handleAcceptLoan(store *db.Store, orchestrator *loan.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid loan id", http.StatusBadRequest)
			return
		}
		acceptorID, _ := authenticatedUserID(r)

		result, err := store.AcceptPost(r.Context(), db.AcceptPostParams{
			PostID:     id,
			AcceptorID: acceptorID,
			Now:        time.Now().UTC(),
		})
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "loan not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, db.ErrInvalidTransition) {
				writeError(w, "loan is no longer open", http.StatusBadRequest)
				return
			}
			logger.Error("failed to accept post", "post_id", id, "error", err)
			writeError(w, "failed to accept loan", http.StatusInternalServerError)
			return
		}

		body := map[string]interface{}{
			"loan":        postToResponse(result.Post),
			"transaction": transactionToResponse(result.Transaction),
		}
		payments := make([]paymentResponse, len(result.Payments))
		for i, p := range result.Payments {
			payments[i] = paymentToResponse(p)
		}
		body["payments"] = payments

		// Mirror the loan on-chain when both parties hold custodial wallets.
		chainResult, err := mirrorLoanOnChain(r, store, orchestrator, result.Transaction)
		if err != nil {
			logger.Error("on-chain loan creation failed",
				"transaction_id", result.Transaction.ID,
				"error", err,
			)
			writeError(w, "loan accepted but on-chain creation failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		if chainResult != nil {
			body["loan_account"] = chainResult.LoanAccount.String()
			body["blockchain_tx_id"] = chainResult.Signature.String()
		}

		logger.Info("loan accepted",
			"post_id", id,
			"transaction_id", result.Transaction.ID,
			"acceptor_id", acceptorID,
			"on_chain", chainResult != nil,
		)
		writeJSON(w, body, http.StatusOK)
	})
}

// mirrorLoanOnChain creates the on-chain loan for a freshly funded
// transaction. Returns (nil, nil) when either party has no wallet: the loan
// then lives in the ledger only.
func mirrorLoanOnChain(
	r *http.Request,
	store *db.Store,
	orchestrator *loan.Orchestrator,
	txn *db.LoanTransaction,
) (*loan.CreateLoanResult, error) {
	lender, err := store.GetUser(r.Context(), txn.LenderID)
	if err != nil {
		return nil, err
	}
	borrower, err := store.GetUser(r.Context(), txn.BorrowerID)
	if err != nil {
		return nil, err
	}
	if lender.SolanaPrivateKey == nil || borrower.SolanaAddress == nil {
		return nil, nil
	}

	lenderKey, err := solanago.PrivateKeyFromBase58(*lender.SolanaPrivateKey)
	if err != nil {
		return nil, loan.ErrInvalidAddress
	}
	borrowerAddr, err := solanago.PublicKeyFromBase58(*borrower.SolanaAddress)
	if err != nil {
		return nil, loan.ErrInvalidAddress
	}

	// Schedules are denominated in months; approximate a month as 30 days
	// for the on-chain duration. The ledger keeps the exact due dates.
	const monthSeconds = 30 * 24 * 60 * 60
	schedule, err := store.GetPaymentSchedule(r.Context(), txn.PaymentScheduleID)
	if err != nil {
		return nil, err
	}

	txnID := txn.ID
	return orchestrator.CreateLoan(r.Context(), loan.CreateLoanParams{
		LenderKey:     lenderKey,
		Borrower:      borrowerAddr,
		Amount:        uint64(txn.LoanAmount),
		APY:           uint64(txn.InterestRate * 100),
		Duration:      int64(schedule.DurationInMonths) * monthSeconds,
		TransactionID: &txnID,
	})
}

// handlePayLoan returns a handler that records a payment against a funded
// loan. Chain-mirrored loans pay through the loan program; ledger-only loans
// apply directly to the installment rows.
// POST /api/loans/{id}/pay
func handlePayLoan(store *db.Store, orchestrator *loan.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid loan id", http.StatusBadRequest)
			return
		}

		var req struct {
			Amount float64 `json:"amount"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Amount <= 0 {
			writeError(w, "amount must be positive", http.StatusBadRequest)
			return
		}

		txn, err := store.GetTransactionByPost(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "no funded loan for this post", http.StatusNotFound)
				return
			}
			logger.Error("failed to get transaction", "post_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		callerID, _ := authenticatedUserID(r)
		if callerID != txn.BorrowerID {
			writeError(w, "only the borrower can make payments", http.StatusForbidden)
			return
		}

		if txn.LoanAccount != nil {
			payOnChain(w, r, store, orchestrator, txn, req.Amount, logger)
			return
		}

		// Ledger-only loan: apply directly to the next unpaid installment.
		payment, err := store.GetNextUnpaidPayment(r.Context(), txn.ID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "loan is fully paid", http.StatusBadRequest)
				return
			}
			logger.Error("failed to find unpaid installment", "transaction_id", txn.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		updated, err := store.ApplyPaymentAmount(r.Context(), payment.ID, req.Amount, nil)
		if err != nil {
			logger.Error("failed to apply payment", "payment_id", payment.ID, "error", err)
			writeDomainError(w, err)
			return
		}

		logger.Info("ledger payment recorded",
			"transaction_id", txn.ID,
			"payment_id", updated.ID,
			"amount", req.Amount,
		)
		writeJSON(w, map[string]interface{}{"payment": paymentToResponse(updated)}, http.StatusOK)
	})
}

// payOnChain pays through the loan program with the borrower's custodial key.
func payOnChain(
	w http.ResponseWriter,
	r *http.Request,
	store *db.Store,
	orchestrator *loan.Orchestrator,
	txn *db.LoanTransaction,
	amount float64,
	logger *slog.Logger,
) {
	borrower, err := store.GetUser(r.Context(), txn.BorrowerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lender, err := store.GetUser(r.Context(), txn.LenderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if borrower.SolanaPrivateKey == nil || lender.SolanaAddress == nil {
		writeError(w, "payment parties are missing wallets", http.StatusBadRequest)
		return
	}

	borrowerKey, err := solanago.PrivateKeyFromBase58(*borrower.SolanaPrivateKey)
	if err != nil {
		writeError(w, "invalid borrower key", http.StatusInternalServerError)
		return
	}
	lenderAddr, err := solanago.PublicKeyFromBase58(*lender.SolanaAddress)
	if err != nil {
		writeError(w, "invalid lender address", http.StatusInternalServerError)
		return
	}
	loanAddr, err := solanago.PublicKeyFromBase58(*txn.LoanAccount)
	if err != nil {
		writeError(w, "invalid loan account address", http.StatusInternalServerError)
		return
	}

	result, err := orchestrator.MakePayment(r.Context(), loan.MakePaymentParams{
		LoanAccount: loanAddr,
		BorrowerKey: borrowerKey,
		Lender:      lenderAddr,
		Amount:      uint64(amount),
	})
	if err != nil {
		logger.Error("on-chain payment failed",
			"transaction_id", txn.ID,
			"loan_account", *txn.LoanAccount,
			"error", err,
		)
		writeDomainError(w, err)
		return
	}

	logger.Info("on-chain payment recorded",
		"transaction_id", txn.ID,
		"signature", result.Signature.String(),
		"paid_amount", result.Loan.PaidAmount,
		"is_active", result.Loan.IsActive,
	)
	writeJSON(w, map[string]interface{}{
		"signature":   result.Signature.String(),
		"paid_amount": result.Loan.PaidAmount,
		"is_active":   result.Loan.IsActive,
	}, http.StatusOK)
}
