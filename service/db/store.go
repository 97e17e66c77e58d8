package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status update would move a row
	// backwards in its lifecycle (e.g. funded -> open).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNegativeAmount is returned when a payment delta is negative.
	ErrNegativeAmount = errors.New("payment amount cannot be negative")
)

// Store provides database operations for the service.
// All SQL lives here; callers work with the domain types below.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// User is a marketplace account. The chain fields are populated once by
// wallet provisioning and never rotated.
type User struct {
	ID               int64
	Username         string
	PasswordHash     string
	Email            string
	Score            float64
	SolanaAddress    *string
	SolanaPrivateKey *string
	CreatedAt        time.Time
}

// PaymentSchedule describes the repayment cadence attached to a post.
type PaymentSchedule struct {
	ID               int64
	Frequency        string // "weekly", "bi-weekly", or "monthly"
	DurationInMonths int32
}

// Post is a marketplace listing, either an offer to lend or a request to borrow.
type Post struct {
	ID                int64
	UserID            int64
	PostType          string // "borrow" or "lend"
	LoanAmount        float64
	InterestRate      float64
	PaymentScheduleID *int64
	Status            string // "open", "funded", or "closed"
	CreatedAt         time.Time
}

// LoanTransaction is an accepted post: a funded loan between two users.
// BlockchainTxID and LoanAccount are set once the loan is mirrored on-chain.
type LoanTransaction struct {
	ID                int64
	LenderID          int64
	BorrowerID        int64
	PostID            int64
	LoanAmount        float64
	InterestRate      float64
	PaymentScheduleID int64
	BlockchainTxID    *string
	LoanAccount       *string
	Status            string // "pending", "active", "completed", or "defaulted"
	CreatedAt         time.Time
}

// Payment is a single installment of a loan transaction.
type Payment struct {
	ID                  int64
	TransactionID       int64
	DueDate             time.Time
	AmountDue           float64
	AmountPaid          float64
	PaymentStatus       string // "due", "paid", or "late"
	BlockchainPaymentID *string
}

// --- users ---

// CreateUserParams contains the parameters for creating a user.
type CreateUserParams struct {
	Username     string
	PasswordHash string
	Email        string
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, email)
		VALUES ($1, $2, $3)
		RETURNING user_id, username, password_hash, email, score, solana_address, solana_private_key, created_at`,
		params.Username, params.PasswordHash, params.Email)
	return scanUser(row)
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, username, password_hash, email, score, solana_address, solana_private_key, created_at
		FROM users WHERE user_id = $1`, id)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, username, password_hash, email, score, solana_address, solana_private_key, created_at
		FROM users WHERE username = $1`, username)
	return scanUser(row)
}

// UpdateUserScore sets a user's reputation score.
func (s *Store) UpdateUserScore(ctx context.Context, id int64, score float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET score = $2 WHERE user_id = $1`, id, score)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserWallet stores the provisioned chain address and secret for a user.
// The update only applies when no wallet is set yet; provisioning is idempotent
// at the caller, and this guard keeps a race from overwriting an existing key.
func (s *Store) SetUserWallet(ctx context.Context, id int64, address, privateKey string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET solana_address = $2, solana_private_key = $3
		WHERE user_id = $1 AND solana_address IS NULL
		RETURNING user_id, username, password_hash, email, score, solana_address, solana_private_key, created_at`,
		id, address, privateKey)
	user, err := scanUser(row)
	if errors.Is(err, ErrNotFound) {
		// Either the user does not exist or a wallet is already set;
		// re-read to distinguish.
		return s.GetUser(ctx, id)
	}
	return user, err
}

// --- payment schedules ---

// CreatePaymentSchedule inserts a repayment schedule.
func (s *Store) CreatePaymentSchedule(ctx context.Context, frequency string, durationInMonths int32) (*PaymentSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO payment_schedules (frequency, duration_in_months)
		VALUES ($1, $2)
		RETURNING schedule_id, frequency, duration_in_months`,
		frequency, durationInMonths)
	return scanSchedule(row)
}

// GetPaymentSchedule retrieves a schedule by id.
func (s *Store) GetPaymentSchedule(ctx context.Context, id int64) (*PaymentSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT schedule_id, frequency, duration_in_months
		FROM payment_schedules WHERE schedule_id = $1`, id)
	return scanSchedule(row)
}

// --- posts ---

// CreatePostParams contains the parameters for creating a post.
type CreatePostParams struct {
	UserID            int64
	PostType          string
	LoanAmount        float64
	InterestRate      float64
	PaymentScheduleID *int64
}

// CreatePost inserts a new marketplace post with status "open".
func (s *Store) CreatePost(ctx context.Context, params CreatePostParams) (*Post, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO posts (user_id, post_type, loan_amount, interest_rate, payment_schedule_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING post_id, user_id, post_type, loan_amount, interest_rate, payment_schedule_id, status, created_at`,
		params.UserID, params.PostType, params.LoanAmount, params.InterestRate, params.PaymentScheduleID)
	return scanPost(row)
}

// GetPost retrieves a post by id.
func (s *Store) GetPost(ctx context.Context, id int64) (*Post, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT post_id, user_id, post_type, loan_amount, interest_rate, payment_schedule_id, status, created_at
		FROM posts WHERE post_id = $1`, id)
	return scanPost(row)
}

// ListPostsParams contains filters for listing posts.
type ListPostsParams struct {
	Status string // empty for all
	Limit  int32
	Offset int32
}

// ListPosts retrieves posts ordered newest first, optionally filtered by status.
func (s *Store) ListPosts(ctx context.Context, params ListPostsParams) ([]*Post, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT post_id, user_id, post_type, loan_amount, interest_rate, payment_schedule_id, status, created_at
		FROM posts
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, post_id DESC
		LIMIT $2 OFFSET $3`,
		params.Status, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// statusRankSQL orders post statuses so transitions can only move forward.
const statusRankSQL = `CASE %s WHEN 'open' THEN 1 WHEN 'funded' THEN 2 WHEN 'closed' THEN 3 END`

// UpdatePostStatus advances a post's status. Transitions that would move the
// status backwards (funded -> open, closed -> anything) are rejected with
// ErrInvalidTransition.
func (s *Store) UpdatePostStatus(ctx context.Context, id int64, status string) (*Post, error) {
	query := fmt.Sprintf(`
		UPDATE posts SET status = $2
		WHERE post_id = $1 AND (`+statusRankSQL+`) < (`+statusRankSQL+`)
		RETURNING post_id, user_id, post_type, loan_amount, interest_rate, payment_schedule_id, status, created_at`,
		"status", "$2")
	row := s.pool.QueryRow(ctx, query, id, status)
	post, err := scanPost(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing post from a disallowed transition.
		if _, getErr := s.GetPost(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return post, err
}

// --- transactions ---

// CreateTransactionParams contains the parameters for recording a loan transaction.
type CreateTransactionParams struct {
	LenderID          int64
	BorrowerID        int64
	PostID            int64
	LoanAmount        float64
	InterestRate      float64
	PaymentScheduleID int64
	BlockchainTxID    *string
	LoanAccount       *string
	Status            string
}

// CreateTransaction inserts a loan transaction.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*LoanTransaction, error) {
	if params.Status == "" {
		params.Status = "pending"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING transaction_id, lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status, created_at`,
		params.LenderID, params.BorrowerID, params.PostID, params.LoanAmount,
		params.InterestRate, params.PaymentScheduleID, params.BlockchainTxID, params.LoanAccount, params.Status)
	return scanTransaction(row)
}

// GetTransaction retrieves a loan transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id int64) (*LoanTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT transaction_id, lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status, created_at
		FROM transactions WHERE transaction_id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionByLoanAccount retrieves a loan transaction by its on-chain account address.
func (s *Store) GetTransactionByLoanAccount(ctx context.Context, loanAccount string) (*LoanTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT transaction_id, lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status, created_at
		FROM transactions WHERE loan_account = $1`, loanAccount)
	return scanTransaction(row)
}

// GetTransactionByPost retrieves the most recent loan transaction for a post.
func (s *Store) GetTransactionByPost(ctx context.Context, postID int64) (*LoanTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT transaction_id, lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status, created_at
		FROM transactions WHERE post_id = $1
		ORDER BY transaction_id DESC LIMIT 1`, postID)
	return scanTransaction(row)
}

// SetTransactionChainResult records the chain transaction id and loan account
// for a transaction and marks it active.
func (s *Store) SetTransactionChainResult(ctx context.Context, id int64, txID, loanAccount string) (*LoanTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transactions SET blockchain_tx_id = $2, loan_account = $3, status = 'active'
		WHERE transaction_id = $1
		RETURNING transaction_id, lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status, created_at`,
		id, txID, loanAccount)
	return scanTransaction(row)
}

// UpdateTransactionStatus sets a transaction's status.
func (s *Store) UpdateTransactionStatus(ctx context.Context, id int64, status string) (*LoanTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transactions SET status = $2
		WHERE transaction_id = $1
		RETURNING transaction_id, lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status, created_at`,
		id, status)
	return scanTransaction(row)
}

// --- payments ---

// CreatePaymentParams contains the parameters for creating a payment row.
type CreatePaymentParams struct {
	TransactionID int64
	DueDate       time.Time
	AmountDue     float64
}

// CreatePayment inserts a payment installment with status "due".
func (s *Store) CreatePayment(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO payments (transaction_id, due_date, amount_due)
		VALUES ($1, $2, $3)
		RETURNING payment_id, transaction_id, due_date, amount_due, amount_paid, payment_status, blockchain_payment_id`,
		params.TransactionID, params.DueDate, params.AmountDue)
	return scanPayment(row)
}

// GetPayment retrieves a payment by id.
func (s *Store) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT payment_id, transaction_id, due_date, amount_due, amount_paid, payment_status, blockchain_payment_id
		FROM payments WHERE payment_id = $1`, id)
	return scanPayment(row)
}

// ListPaymentsByTransaction retrieves all installments of a transaction, earliest first.
func (s *Store) ListPaymentsByTransaction(ctx context.Context, transactionID int64) ([]*Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payment_id, transaction_id, due_date, amount_due, amount_paid, payment_status, blockchain_payment_id
		FROM payments WHERE transaction_id = $1
		ORDER BY due_date ASC, payment_id ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// GetNextUnpaidPayment retrieves the earliest installment of a transaction that
// is not yet fully paid.
func (s *Store) GetNextUnpaidPayment(ctx context.Context, transactionID int64) (*Payment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT payment_id, transaction_id, due_date, amount_due, amount_paid, payment_status, blockchain_payment_id
		FROM payments
		WHERE transaction_id = $1 AND payment_status <> 'paid'
		ORDER BY due_date ASC, payment_id ASC
		LIMIT 1`, transactionID)
	return scanPayment(row)
}

// ApplyPaymentAmount adds a non-negative delta to a payment's amount_paid and
// flips payment_status to 'paid' once amount_paid covers amount_due. The
// amount_paid column only ever grows.
func (s *Store) ApplyPaymentAmount(ctx context.Context, id int64, delta float64, blockchainPaymentID *string) (*Payment, error) {
	if delta < 0 {
		return nil, ErrNegativeAmount
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE payments SET
			amount_paid = amount_paid + $2,
			payment_status = CASE WHEN amount_paid + $2 >= amount_due THEN 'paid' ELSE payment_status END,
			blockchain_payment_id = COALESCE($3, blockchain_payment_id)
		WHERE payment_id = $1
		RETURNING payment_id, transaction_id, due_date, amount_due, amount_paid, payment_status, blockchain_payment_id`,
		id, delta, blockchainPaymentID)
	return scanPayment(row)
}

// MarkOverduePayments flips every unpaid installment with a due date before
// asOf to 'late'. Returns the number of rows updated.
func (s *Store) MarkOverduePayments(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments SET payment_status = 'late'
		WHERE payment_status = 'due' AND due_date < $1`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- accept flow ---

// AcceptPostParams contains the parameters for accepting an open post.
type AcceptPostParams struct {
	PostID     int64
	AcceptorID int64
	Now        time.Time
}

// AcceptPostResult carries everything created by AcceptPost.
type AcceptPostResult struct {
	Post        *Post
	Transaction *LoanTransaction
	Payments    []*Payment
}

// AcceptPost funds an open post inside a single database transaction: the post
// flips to 'funded', a loan transaction is inserted with status 'active', and
// the installment rows are generated from the post's payment schedule. A crash
// cannot leave the post funded without its transaction row.
func (s *Store) AcceptPost(ctx context.Context, params AcceptPostParams) (*AcceptPostResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the post row so concurrent accepts serialize.
	row := tx.QueryRow(ctx, `
		SELECT post_id, user_id, post_type, loan_amount, interest_rate, payment_schedule_id, status, created_at
		FROM posts WHERE post_id = $1 FOR UPDATE`, params.PostID)
	post, err := scanPost(row)
	if err != nil {
		return nil, err
	}

	if post.Status != "open" {
		return nil, ErrInvalidTransition
	}

	if post.PaymentScheduleID == nil {
		return nil, fmt.Errorf("post %d has no payment schedule", post.ID)
	}

	schedRow := tx.QueryRow(ctx, `
		SELECT schedule_id, frequency, duration_in_months
		FROM payment_schedules WHERE schedule_id = $1`, *post.PaymentScheduleID)
	schedule, err := scanSchedule(schedRow)
	if err != nil {
		return nil, err
	}

	// A "lend" post is an offer from a lender, so the acceptor borrows,
	// and vice versa.
	lenderID, borrowerID := post.UserID, params.AcceptorID
	if post.PostType == "borrow" {
		lenderID, borrowerID = params.AcceptorID, post.UserID
	}

	row = tx.QueryRow(ctx, `
		UPDATE posts SET status = 'funded' WHERE post_id = $1
		RETURNING post_id, user_id, post_type, loan_amount, interest_rate, payment_schedule_id, status, created_at`,
		post.ID)
	updatedPost, err := scanPost(row)
	if err != nil {
		return nil, err
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO transactions (lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
		RETURNING transaction_id, lender_id, borrower_id, post_id, loan_amount, interest_rate, payment_schedule_id, blockchain_tx_id, loan_account, status, created_at`,
		lenderID, borrowerID, post.ID, post.LoanAmount, post.InterestRate, schedule.ID)
	loanTxn, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	installments := BuildInstallments(post.LoanAmount, post.InterestRate, schedule, params.Now)
	payments := make([]*Payment, 0, len(installments))
	for _, inst := range installments {
		row = tx.QueryRow(ctx, `
			INSERT INTO payments (transaction_id, due_date, amount_due)
			VALUES ($1, $2, $3)
			RETURNING payment_id, transaction_id, due_date, amount_due, amount_paid, payment_status, blockchain_payment_id`,
			loanTxn.ID, inst.DueDate, inst.AmountDue)
		p, err := scanPayment(row)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &AcceptPostResult{
		Post:        updatedPost,
		Transaction: loanTxn,
		Payments:    payments,
	}, nil
}

// Installment is a computed repayment slice before it is persisted.
type Installment struct {
	DueDate   time.Time
	AmountDue float64
}

// BuildInstallments splits the repayment total (principal plus simple interest)
// into equal installments on the schedule's cadence, starting one period after
// start.
func BuildInstallments(principal, interestRate float64, schedule *PaymentSchedule, start time.Time) []Installment {
	perMonth := 1
	step := func(t time.Time, i int) time.Time { return t.AddDate(0, i, 0) }
	switch schedule.Frequency {
	case "weekly":
		perMonth = 4
		step = func(t time.Time, i int) time.Time { return t.AddDate(0, 0, 7*i) }
	case "bi-weekly":
		perMonth = 2
		step = func(t time.Time, i int) time.Time { return t.AddDate(0, 0, 14*i) }
	}

	count := int(schedule.DurationInMonths) * perMonth
	if count <= 0 {
		count = 1
	}

	total := principal * (1 + interestRate/100)
	per := total / float64(count)

	installments := make([]Installment, count)
	for i := range installments {
		installments[i] = Installment{
			DueDate:   step(start, i+1),
			AmountDue: per,
		}
	}
	return installments
}

// --- row scanning ---

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.Score,
		&u.SolanaAddress, &u.SolanaPrivateKey, &u.CreatedAt)
	if err != nil {
		return nil, mapScanError(err)
	}
	return u, nil
}

func scanSchedule(row pgx.Row) (*PaymentSchedule, error) {
	ps := &PaymentSchedule{}
	err := row.Scan(&ps.ID, &ps.Frequency, &ps.DurationInMonths)
	if err != nil {
		return nil, mapScanError(err)
	}
	return ps, nil
}

func scanPost(row pgx.Row) (*Post, error) {
	p := &Post{}
	err := row.Scan(&p.ID, &p.UserID, &p.PostType, &p.LoanAmount, &p.InterestRate,
		&p.PaymentScheduleID, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, mapScanError(err)
	}
	return p, nil
}

func scanTransaction(row pgx.Row) (*LoanTransaction, error) {
	t := &LoanTransaction{}
	err := row.Scan(&t.ID, &t.LenderID, &t.BorrowerID, &t.PostID, &t.LoanAmount,
		&t.InterestRate, &t.PaymentScheduleID, &t.BlockchainTxID, &t.LoanAccount,
		&t.Status, &t.CreatedAt)
	if err != nil {
		return nil, mapScanError(err)
	}
	return t, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	p := &Payment{}
	err := row.Scan(&p.ID, &p.TransactionID, &p.DueDate, &p.AmountDue,
		&p.AmountPaid, &p.PaymentStatus, &p.BlockchainPaymentID)
	if err != nil {
		return nil, mapScanError(err)
	}
	return p, nil
}

func mapScanError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
