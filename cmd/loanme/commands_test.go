package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// testApp builds a minimal app with the global flags the commands depend on.
func testApp(commands ...*cli.Command) *cli.App {
	return &cli.App{
		Name:     "loanme",
		Commands: commands,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server-url", Aliases: []string{"s"}},
			&cli.StringFlag{Name: "token"},
			&cli.StringFlag{Name: "filter", Aliases: []string{"f"}},
		},
	}
}

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	app := testApp(&cli.Command{
		Name:        "server",
		Subcommands: []*cli.Command{healthCommand()},
	})

	err := app.Run([]string{"loanme", "--server-url", server.URL, "server", "health"})
	require.NoError(t, err)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	app := testApp(&cli.Command{
		Name:        "server",
		Subcommands: []*cli.Command{healthCommand()},
	})

	err := app.Run([]string{"loanme", "--server-url", server.URL, "server", "health"})
	require.Error(t, err)
}

func TestLoanListCommand_PassesFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/loans", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("status"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"loans":   []map[string]interface{}{{"post_id": 1, "status": "open"}},
		})
	}))
	defer server.Close()

	app := testApp(loanCommands())
	err := app.Run([]string{"loanme", "--server-url", server.URL, "loan", "list", "--status", "open"})
	require.NoError(t, err)
}

func TestLoanPayCommand_SendsTokenAndAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/loans/42/pay", r.URL.Path)
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)
		assert.Equal(t, float64(250), body["amount"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"payment": map[string]interface{}{"payment_id": 3, "payment_status": "partial"},
		})
	}))
	defer server.Close()

	app := testApp(loanCommands())
	err := app.Run([]string{
		"loanme", "--server-url", server.URL, "--token", "tok123",
		"loan", "pay", "--amount", "250", "42",
	})
	require.NoError(t, err)
}

func TestLoanGetCommand_RejectsBadID(t *testing.T) {
	app := testApp(loanCommands())
	err := app.Run([]string{"loanme", "loan", "get", "notanumber"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid loan id")
}

func TestFilterFlag_AppliesJQ(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"loans": []map[string]interface{}{
				{"post_id": 1, "status": "open"},
				{"post_id": 2, "status": "funded"},
			},
		})
	}))
	defer server.Close()

	app := testApp(loanCommands())
	err := app.Run([]string{
		"loanme", "--server-url", server.URL,
		"--filter", ".[] | select(.status == \"open\") | .post_id",
		"loan", "list",
	})
	require.NoError(t, err)
}

func TestFilterFlag_RejectsBadExpression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "loans": []interface{}{}})
	}))
	defer server.Close()

	app := testApp(loanCommands())
	err := app.Run([]string{
		"loanme", "--server-url", server.URL,
		"--filter", ".[ broken",
		"loan", "list",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jq filter")
}
