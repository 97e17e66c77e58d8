package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func accountCommands() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Account management commands",
		Subcommands: []*cli.Command{
			accountCreateCommand(),
			accountLoginCommand(),
			accountGenerateWalletCommand(),
		},
	}
}

func accountCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Register a new account",
		ArgsUsage: "USERNAME EMAIL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "password",
				Usage: "Password (prompted interactively if omitted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected USERNAME and EMAIL arguments")
			}
			username := c.Args().Get(0)
			email := c.Args().Get(1)

			password := c.String("password")
			if password == "" {
				var err error
				password, err = promptPassword("Password: ")
				if err != nil {
					return err
				}
				confirm, err := promptPassword("Confirm password: ")
				if err != nil {
					return err
				}
				if password != confirm {
					return fmt.Errorf("passwords do not match")
				}
			}

			cl := newClient(c)
			user, err := cl.CreateAccount(c.Context, username, password, email)
			if err != nil {
				return err
			}
			return printResult(c, user)
		},
	}
}

func accountLoginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Authenticate and print a bearer token",
		ArgsUsage: "USERNAME",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "password",
				Usage: "Password (prompted interactively if omitted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected USERNAME argument")
			}
			username := c.Args().Get(0)

			password := c.String("password")
			if password == "" {
				var err error
				password, err = promptPassword("Password: ")
				if err != nil {
					return err
				}
			}

			cl := newClient(c)
			user, err := cl.Login(c.Context, username, password)
			if err != nil {
				return err
			}
			return printResult(c, map[string]interface{}{
				"token": cl.Token(),
				"user":  user,
			})
		},
	}
}

func accountGenerateWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate-wallet",
		Usage:     "Provision a custodial wallet for a user (idempotent)",
		ArgsUsage: "USER_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected USER_ID argument")
			}
			userID, err := parseID(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}

			cl := newClient(c)
			user, err := cl.GenerateWallet(c.Context, userID)
			if err != nil {
				return err
			}
			return printResult(c, user)
		},
	}
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}
