package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "loanme",
		Usage: "Peer-to-peer loan marketplace CLI",
		Description: `A command-line tool for the loanme marketplace.

Use this CLI to manage accounts, post and accept loans, make payments,
and deploy the on-chain loan program.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			accountCommands(),
			loanCommands(),
			walletCommands(),
			solanaCommands(),
			deployCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "Marketplace server URL",
				EnvVars: []string{"LOANME_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for authenticated endpoints",
				EnvVars: []string{"LOANME_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression applied to the JSON output",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
