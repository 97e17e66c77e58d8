package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanme/loanme/service/auth"
	"github.com/loanme/loanme/service/config"
	"github.com/loanme/loanme/service/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	admin := solana.NewWallet()
	return &config.Config{
		JWTSecret:        []byte("test-secret"),
		JWTValidity:      time.Hour,
		AdminKey:         admin.PrivateKey,
		LoanProgramID:    solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111"),
		DeployChunkSize:  900,
		DeployChunkDelay: time.Millisecond,
	}
}

func setupTestStore(t *testing.T) *db.Store {
	t.Helper()
	db.SkipIfNoTestDB(t)
	ts := db.NewTestStore(t)
	t.Cleanup(func() { ts.Close() })
	ts.Cleanup(t)
	return ts.Store
}

// authedRequest builds a request carrying an authenticated user id, the way
// requireAuth would after token validation.
func authedRequest(req *http.Request, userID int64) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), userIDKey, userID))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid address", "4Nd1mY5K6yBVXjLRuBMsQYPqBY6kBoeS7dUTYne9EqTv", false},
		{"empty", "", true},
		{"control characters", "abc\x00def", true},
		{"invalid base58 chars", "0OIl+/=", true},
		{"too long", strings.Repeat("A", 200), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAddress(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	cfg := testConfig()
	var gotUserID int64
	handler := requireAuth(cfg.JWTSecret, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = authenticatedUserID(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/loans", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/loans", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := auth.GenerateToken(77, cfg.JWTSecret, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/loans", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(77), gotUserID)
	})
}

func TestCreateAccountAndLogin(t *testing.T) {
	store := setupTestStore(t)
	cfg := testConfig()
	logger := testLogger()

	// Create the account.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/account",
		strings.NewReader(`{"username":"alice","password":"hunter2hunter2","email":"alice@example.com"}`))
	handleCreateAccount(store, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice", user["username"])
	assert.NotContains(t, w.Body.String(), "password")

	// Log in with the right password.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/login",
		strings.NewReader(`{"username":"alice","password":"hunter2hunter2"}`))
	handleLogin(store, cfg, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decodeBody(t, w)
	assert.NotEmpty(t, body["token"])

	// The token must carry the user's id.
	userID, err := auth.UserIDFromToken(body["token"].(string), cfg.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, int64(user["user_id"].(float64)), userID)

	// Wrong password is a 401 with no token.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/login",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	handleLogin(store, cfg, logger).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Unknown user gets the identical error shape.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/login",
		strings.NewReader(`{"username":"nobody","password":"wrong"}`))
	handleLogin(store, cfg, logger).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateLoanValidation(t *testing.T) {
	store := setupTestStore(t)
	logger := testLogger()

	user, err := store.CreateUser(context.Background(), db.CreateUserParams{
		Username: "bob", PasswordHash: "x", Email: "bob@example.com",
	})
	require.NoError(t, err)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"valid lend post", `{"post_type":"lend","loan_amount":5000,"interest_rate":5.2,"frequency":"monthly","duration_in_months":12}`, http.StatusCreated},
		{"bad post type", `{"post_type":"steal","loan_amount":5000,"interest_rate":5.2,"frequency":"monthly","duration_in_months":12}`, http.StatusBadRequest},
		{"zero amount", `{"post_type":"lend","loan_amount":0,"interest_rate":5.2,"frequency":"monthly","duration_in_months":12}`, http.StatusBadRequest},
		{"negative rate", `{"post_type":"lend","loan_amount":100,"interest_rate":-1,"frequency":"monthly","duration_in_months":12}`, http.StatusBadRequest},
		{"bad frequency", `{"post_type":"lend","loan_amount":100,"interest_rate":1,"frequency":"daily","duration_in_months":12}`, http.StatusBadRequest},
		{"zero duration", `{"post_type":"lend","loan_amount":100,"interest_rate":1,"frequency":"monthly","duration_in_months":0}`, http.StatusBadRequest},
		{"malformed JSON", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authedRequest(httptest.NewRequest("POST", "/api/loans", strings.NewReader(tt.body)), user.ID)
			w := httptest.NewRecorder()
			handleCreateLoan(store, logger).ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestAcceptAndPayLedgerOnlyLoan(t *testing.T) {
	store := setupTestStore(t)
	logger := testLogger()
	ctx := context.Background()

	lender, err := store.CreateUser(ctx, db.CreateUserParams{Username: "lender", PasswordHash: "x", Email: "l@example.com"})
	require.NoError(t, err)
	borrower, err := store.CreateUser(ctx, db.CreateUserParams{Username: "borrower", PasswordHash: "x", Email: "b@example.com"})
	require.NoError(t, err)

	// Lender posts an offer.
	req := authedRequest(httptest.NewRequest("POST", "/api/loans",
		strings.NewReader(`{"post_type":"lend","loan_amount":1200,"interest_rate":0,"frequency":"monthly","duration_in_months":12}`)), lender.ID)
	w := httptest.NewRecorder()
	handleCreateLoan(store, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	postID := int64(decodeBody(t, w)["loan"].(map[string]interface{})["post_id"].(float64))

	// Borrower accepts. No wallets exist, so the loan stays ledger-only.
	req = authedRequest(httptest.NewRequest("POST", "/api/loans/1/accept", nil), borrower.ID)
	req.SetPathValue("id", itoa(postID))
	w = httptest.NewRecorder()
	handleAcceptLoan(store, nil, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "funded", body["loan"].(map[string]interface{})["status"])
	assert.Nil(t, body["loan_account"])
	payments := body["payments"].([]interface{})
	assert.Len(t, payments, 12)

	// Double accept is rejected.
	req = authedRequest(httptest.NewRequest("POST", "/api/loans/1/accept", nil), borrower.ID)
	req.SetPathValue("id", itoa(postID))
	w = httptest.NewRecorder()
	handleAcceptLoan(store, nil, logger).ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Borrower pays one installment.
	req = authedRequest(httptest.NewRequest("POST", "/api/loans/1/pay",
		strings.NewReader(`{"amount":100}`)), borrower.ID)
	req.SetPathValue("id", itoa(postID))
	w = httptest.NewRecorder()
	handlePayLoan(store, nil, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payment := decodeBody(t, w)["payment"].(map[string]interface{})
	assert.Equal(t, float64(100), payment["amount_paid"])
	assert.Equal(t, "paid", payment["payment_status"])

	// A non-borrower cannot pay.
	req = authedRequest(httptest.NewRequest("POST", "/api/loans/1/pay",
		strings.NewReader(`{"amount":100}`)), lender.ID)
	req.SetPathValue("id", itoa(postID))
	w = httptest.NewRecorder()
	handlePayLoan(store, nil, logger).ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetLoanIncludesSchedule(t *testing.T) {
	store := setupTestStore(t)
	logger := testLogger()
	ctx := context.Background()

	lender, err := store.CreateUser(ctx, db.CreateUserParams{Username: "l2", PasswordHash: "x", Email: "l2@example.com"})
	require.NoError(t, err)
	borrower, err := store.CreateUser(ctx, db.CreateUserParams{Username: "b2", PasswordHash: "x", Email: "b2@example.com"})
	require.NoError(t, err)

	schedule, err := store.CreatePaymentSchedule(ctx, "monthly", 6)
	require.NoError(t, err)
	post, err := store.CreatePost(ctx, db.CreatePostParams{
		UserID: lender.ID, PostType: "lend", LoanAmount: 600, InterestRate: 0, PaymentScheduleID: &schedule.ID,
	})
	require.NoError(t, err)
	_, err = store.AcceptPost(ctx, db.AcceptPostParams{PostID: post.ID, AcceptorID: borrower.ID, Now: time.Now().UTC()})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/loans/1", nil)
	req.SetPathValue("id", itoa(post.ID))
	w := httptest.NewRecorder()
	handleGetLoan(store, logger).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.NotNil(t, body["transaction"])
	assert.Len(t, body["payments"].([]interface{}), 6)

	// Unknown post is a 404.
	req = httptest.NewRequest("GET", "/api/loans/999999", nil)
	req.SetPathValue("id", "999999")
	w = httptest.NewRecorder()
	handleGetLoan(store, logger).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWalletAddress(t *testing.T) {
	cfg := testConfig()
	w := httptest.NewRecorder()
	handleWalletAddress(cfg, testLogger()).ServeHTTP(w, httptest.NewRequest("GET", "/api/wallet/address", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, cfg.AdminKey.PublicKey().String(), body["address"])
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
