package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/loanme/loanme/client"
)

// newClient builds an API client from the global flags, attaching the bearer
// token when one is configured.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cl := client.NewClient(c.String("server-url"), nil, logger)
	if token := c.String("token"); token != "" {
		cl.SetToken(token)
	}
	return cl
}

// printResult writes v as indented JSON, optionally run through the global
// --filter jq expression first.
func printResult(c *cli.Context, v interface{}) error {
	filter := c.String("filter")
	if filter == "" {
		return printJSON(v)
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq operates on decoded JSON values, so round-trip through
	// encoding/json first.
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if err := printJSON(out); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
