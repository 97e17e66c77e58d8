package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestUser(t *testing.T, store *TestStore, username string) *User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), CreateUserParams{
		Username:     username,
		PasswordHash: "hash-" + username,
		Email:        username + "@example.com",
	})
	require.NoError(t, err)
	return user
}

func createTestSchedule(t *testing.T, store *TestStore, frequency string, months int32) *PaymentSchedule {
	t.Helper()
	schedule, err := store.CreatePaymentSchedule(context.Background(), frequency, months)
	require.NoError(t, err)
	return schedule
}

func TestCreateAndGetUser(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	user := createTestUser(t, store, "alice")
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, float64(0), user.Score)
	assert.Nil(t, user.SolanaAddress)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	byName, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = store.GetUser(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetUserWallet_Idempotent(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	user := createTestUser(t, store, "bob")

	updated, err := store.SetUserWallet(ctx, user.ID, "Addr1111", "secret1")
	require.NoError(t, err)
	require.NotNil(t, updated.SolanaAddress)
	assert.Equal(t, "Addr1111", *updated.SolanaAddress)

	// A second provisioning attempt must not overwrite the first keypair.
	again, err := store.SetUserWallet(ctx, user.ID, "Addr2222", "secret2")
	require.NoError(t, err)
	require.NotNil(t, again.SolanaAddress)
	assert.Equal(t, "Addr1111", *again.SolanaAddress)
	assert.Equal(t, "secret1", *again.SolanaPrivateKey)
}

func TestPostStatusNeverRegresses(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	user := createTestUser(t, store, "carol")
	schedule := createTestSchedule(t, store, "monthly", 12)

	post, err := store.CreatePost(ctx, CreatePostParams{
		UserID:            user.ID,
		PostType:          "lend",
		LoanAmount:        5000,
		InterestRate:      5.2,
		PaymentScheduleID: &schedule.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "open", post.Status)

	funded, err := store.UpdatePostStatus(ctx, post.ID, "funded")
	require.NoError(t, err)
	assert.Equal(t, "funded", funded.Status)

	// funded -> open must be rejected
	_, err = store.UpdatePostStatus(ctx, post.ID, "open")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	closed, err := store.UpdatePostStatus(ctx, post.ID, "closed")
	require.NoError(t, err)
	assert.Equal(t, "closed", closed.Status)

	// closed -> funded must be rejected
	_, err = store.UpdatePostStatus(ctx, post.ID, "funded")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)
}

func TestAcceptPost(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	lender := createTestUser(t, store, "lender")
	borrower := createTestUser(t, store, "borrower")
	schedule := createTestSchedule(t, store, "monthly", 12)

	post, err := store.CreatePost(ctx, CreatePostParams{
		UserID:            lender.ID,
		PostType:          "lend",
		LoanAmount:        5000,
		InterestRate:      5.2,
		PaymentScheduleID: &schedule.ID,
	})
	require.NoError(t, err)

	posts, err := store.ListPosts(ctx, ListPostsParams{Status: "open"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, post.ID, posts[0].ID)

	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	result, err := store.AcceptPost(ctx, AcceptPostParams{
		PostID:     post.ID,
		AcceptorID: borrower.ID,
		Now:        now,
	})
	require.NoError(t, err)

	assert.Equal(t, "funded", result.Post.Status)
	assert.Equal(t, "active", result.Transaction.Status)
	assert.Equal(t, lender.ID, result.Transaction.LenderID)
	assert.Equal(t, borrower.ID, result.Transaction.BorrowerID)
	require.Len(t, result.Payments, 12)
	assert.Equal(t, "due", result.Payments[0].PaymentStatus)

	// Total due equals principal plus simple interest.
	var totalDue float64
	for _, p := range result.Payments {
		totalDue += p.AmountDue
	}
	assert.InDelta(t, 5000*1.052, totalDue, 0.01)

	// Accepting twice must fail: the post is no longer open.
	_, err = store.AcceptPost(ctx, AcceptPostParams{
		PostID:     post.ID,
		AcceptorID: borrower.ID,
		Now:        now,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAcceptBorrowPostSwapsRoles(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	poster := createTestUser(t, store, "needs-cash")
	acceptor := createTestUser(t, store, "has-cash")
	schedule := createTestSchedule(t, store, "weekly", 1)

	post, err := store.CreatePost(ctx, CreatePostParams{
		UserID:            poster.ID,
		PostType:          "borrow",
		LoanAmount:        100,
		InterestRate:      2,
		PaymentScheduleID: &schedule.ID,
	})
	require.NoError(t, err)

	result, err := store.AcceptPost(ctx, AcceptPostParams{
		PostID:     post.ID,
		AcceptorID: acceptor.ID,
		Now:        time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, acceptor.ID, result.Transaction.LenderID)
	assert.Equal(t, poster.ID, result.Transaction.BorrowerID)
	assert.Len(t, result.Payments, 4)
}

func TestApplyPaymentAmount(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	lender := createTestUser(t, store, "pay-lender")
	borrower := createTestUser(t, store, "pay-borrower")
	schedule := createTestSchedule(t, store, "monthly", 1)

	post, err := store.CreatePost(ctx, CreatePostParams{
		UserID:            lender.ID,
		PostType:          "lend",
		LoanAmount:        1000,
		InterestRate:      0,
		PaymentScheduleID: &schedule.ID,
	})
	require.NoError(t, err)

	result, err := store.AcceptPost(ctx, AcceptPostParams{
		PostID:     post.ID,
		AcceptorID: borrower.ID,
		Now:        time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, result.Payments, 1)
	payment := result.Payments[0]
	assert.Equal(t, float64(1000), payment.AmountDue)

	// Partial payment increases amount_paid by exactly the delta.
	sig := "chain-sig-1"
	updated, err := store.ApplyPaymentAmount(ctx, payment.ID, 500, &sig)
	require.NoError(t, err)
	assert.Equal(t, float64(500), updated.AmountPaid)
	assert.Equal(t, "due", updated.PaymentStatus)
	require.NotNil(t, updated.BlockchainPaymentID)
	assert.Equal(t, sig, *updated.BlockchainPaymentID)

	// Negative deltas are rejected so amount_paid never decreases.
	_, err = store.ApplyPaymentAmount(ctx, payment.ID, -1, nil)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	// Covering the remainder flips the status to paid.
	updated, err = store.ApplyPaymentAmount(ctx, payment.ID, 500, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), updated.AmountPaid)
	assert.Equal(t, "paid", updated.PaymentStatus)

	// Further payments keep growing amount_paid without unsetting paid.
	updated, err = store.ApplyPaymentAmount(ctx, payment.ID, 25, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1025), updated.AmountPaid)
	assert.Equal(t, "paid", updated.PaymentStatus)
}

func TestMarkOverduePayments(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	lender := createTestUser(t, store, "late-lender")
	borrower := createTestUser(t, store, "late-borrower")
	schedule := createTestSchedule(t, store, "monthly", 2)

	post, err := store.CreatePost(ctx, CreatePostParams{
		UserID:            lender.ID,
		PostType:          "lend",
		LoanAmount:        200,
		InterestRate:      0,
		PaymentScheduleID: &schedule.ID,
	})
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := store.AcceptPost(ctx, AcceptPostParams{
		PostID:     post.ID,
		AcceptorID: borrower.ID,
		Now:        start,
	})
	require.NoError(t, err)
	require.Len(t, result.Payments, 2)

	// Only the first installment (due Feb 1) is overdue by Feb 15.
	count, err := store.MarkOverduePayments(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	payments, err := store.ListPaymentsByTransaction(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "late", payments[0].PaymentStatus)
	assert.Equal(t, "due", payments[1].PaymentStatus)

	// A second sweep finds nothing new.
	count, err = store.MarkOverduePayments(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSetTransactionChainResult(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	lender := createTestUser(t, store, "chain-lender")
	borrower := createTestUser(t, store, "chain-borrower")
	schedule := createTestSchedule(t, store, "monthly", 1)

	txn, err := store.CreateTransaction(ctx, CreateTransactionParams{
		LenderID:          lender.ID,
		BorrowerID:        borrower.ID,
		PostID:            mustCreatePost(t, store, lender.ID, schedule.ID),
		LoanAmount:        100,
		InterestRate:      1,
		PaymentScheduleID: schedule.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", txn.Status)

	updated, err := store.SetTransactionChainResult(ctx, txn.ID, "sig-abc", "LoanAcct111")
	require.NoError(t, err)
	assert.Equal(t, "active", updated.Status)
	require.NotNil(t, updated.BlockchainTxID)
	assert.Equal(t, "sig-abc", *updated.BlockchainTxID)

	byAccount, err := store.GetTransactionByLoanAccount(ctx, "LoanAcct111")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, byAccount.ID)
}

func mustCreatePost(t *testing.T, store *TestStore, userID, scheduleID int64) int64 {
	t.Helper()
	post, err := store.CreatePost(context.Background(), CreatePostParams{
		UserID:            userID,
		PostType:          "lend",
		LoanAmount:        100,
		InterestRate:      1,
		PaymentScheduleID: &scheduleID,
	})
	require.NoError(t, err)
	return post.ID
}

func TestBuildInstallments(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("monthly", func(t *testing.T) {
		schedule := &PaymentSchedule{Frequency: "monthly", DurationInMonths: 3}
		installments := BuildInstallments(300, 10, schedule, start)
		require.Len(t, installments, 3)
		assert.Equal(t, start.AddDate(0, 1, 0), installments[0].DueDate)
		assert.Equal(t, start.AddDate(0, 3, 0), installments[2].DueDate)
		assert.InDelta(t, 110, installments[0].AmountDue, 0.001)
	})

	t.Run("bi-weekly", func(t *testing.T) {
		schedule := &PaymentSchedule{Frequency: "bi-weekly", DurationInMonths: 1}
		installments := BuildInstallments(100, 0, schedule, start)
		require.Len(t, installments, 2)
		assert.Equal(t, start.AddDate(0, 0, 14), installments[0].DueDate)
		assert.Equal(t, start.AddDate(0, 0, 28), installments[1].DueDate)
		assert.InDelta(t, 50, installments[0].AmountDue, 0.001)
	})

	t.Run("weekly", func(t *testing.T) {
		schedule := &PaymentSchedule{Frequency: "weekly", DurationInMonths: 1}
		installments := BuildInstallments(100, 0, schedule, start)
		require.Len(t, installments, 4)
		assert.Equal(t, start.AddDate(0, 0, 7), installments[0].DueDate)
	})
}
