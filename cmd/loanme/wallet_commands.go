package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Service wallet commands",
		Subcommands: []*cli.Command{
			walletBalanceCommand(),
			walletAddressCommand(),
			walletTransferCommand(),
		},
	}
}

func walletBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Show the service wallet's lamport balance",
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			balance, err := cl.WalletBalance(c.Context)
			if err != nil {
				return err
			}
			return printResult(c, balance)
		},
	}
}

func walletAddressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Show the service wallet's address",
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			address, err := cl.WalletAddress(c.Context)
			if err != nil {
				return err
			}
			return printResult(c, map[string]string{"address": address})
		},
	}
}

func walletTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send lamports from the service wallet",
		ArgsUsage: "RECIPIENT_ADDRESS",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "lamports",
				Usage:    "Amount in lamports",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected RECIPIENT_ADDRESS argument")
			}
			cl := newClient(c)
			sig, err := cl.WalletTransfer(c.Context, c.Args().Get(0), c.Uint64("lamports"))
			if err != nil {
				return err
			}
			return printResult(c, map[string]string{"signature": sig})
		},
	}
}

func solanaCommands() *cli.Command {
	return &cli.Command{
		Name:  "solana",
		Usage: "Raw Solana commands",
		Subcommands: []*cli.Command{
			solanaBalanceCommand(),
			solanaTransferCommand(),
		},
	}
}

func solanaBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show any account's lamport balance",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected ADDRESS argument")
			}
			cl := newClient(c)
			balance, err := cl.SolanaBalance(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			return printResult(c, balance)
		},
	}
}

func solanaTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send lamports with a caller-supplied key",
		ArgsUsage: "RECIPIENT_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "from-secret",
				Usage:    "Base58-encoded sender private key",
				EnvVars:  []string{"LOANME_FROM_SECRET"},
				Required: true,
			},
			&cli.Uint64Flag{
				Name:     "lamports",
				Usage:    "Amount in lamports",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected RECIPIENT_ADDRESS argument")
			}
			cl := newClient(c)
			sig, err := cl.SolanaTransfer(c.Context, c.String("from-secret"), c.Args().Get(0), c.Uint64("lamports"))
			if err != nil {
				return err
			}
			return printResult(c, map[string]string{"signature": sig})
		},
	}
}
