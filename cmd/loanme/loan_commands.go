package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/loanme/loanme/client"
)

func loanCommands() *cli.Command {
	return &cli.Command{
		Name:  "loan",
		Usage: "Marketplace loan commands",
		Subcommands: []*cli.Command{
			loanCreateCommand(),
			loanListCommand(),
			loanGetCommand(),
			loanAcceptCommand(),
			loanPayCommand(),
		},
	}
}

func loanCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Post a new loan offer or request",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Usage:    "Post type: borrow or lend",
				Required: true,
			},
			&cli.Float64Flag{
				Name:     "amount",
				Usage:    "Loan principal",
				Required: true,
			},
			&cli.Float64Flag{
				Name:     "rate",
				Usage:    "Annual interest rate in percent",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "frequency",
				Usage: "Repayment frequency: weekly, bi-weekly, or monthly",
				Value: "monthly",
			},
			&cli.IntFlag{
				Name:  "duration",
				Usage: "Loan duration in months",
				Value: 12,
			},
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			loan, err := cl.CreateLoan(c.Context, client.CreateLoanParams{
				PostType:         c.String("type"),
				LoanAmount:       c.Float64("amount"),
				InterestRate:     c.Float64("rate"),
				Frequency:        c.String("frequency"),
				DurationInMonths: int32(c.Int("duration")),
			})
			if err != nil {
				return err
			}
			return printResult(c, loan)
		},
	}
}

func loanListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List marketplace posts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status: open, funded, closed, or cancelled",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of posts to return",
			},
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			loans, err := cl.ListLoans(c.Context, c.String("status"), c.Int("limit"))
			if err != nil {
				return err
			}
			return printResult(c, loans)
		},
	}
}

func loanGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a post with its transaction and installments",
		ArgsUsage: "LOAN_ID",
		Action: func(c *cli.Context) error {
			id, err := loanIDArg(c)
			if err != nil {
				return err
			}
			cl := newClient(c)
			detail, err := cl.GetLoan(c.Context, id)
			if err != nil {
				return err
			}
			return printResult(c, detail)
		},
	}
}

func loanAcceptCommand() *cli.Command {
	return &cli.Command{
		Name:      "accept",
		Usage:     "Accept an open post, funding the loan",
		ArgsUsage: "LOAN_ID",
		Action: func(c *cli.Context) error {
			id, err := loanIDArg(c)
			if err != nil {
				return err
			}
			cl := newClient(c)
			result, err := cl.AcceptLoan(c.Context, id)
			if err != nil {
				return err
			}
			return printResult(c, result)
		},
	}
}

func loanPayCommand() *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Make a payment against a funded loan",
		ArgsUsage: "LOAN_ID",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:     "amount",
				Usage:    "Payment amount",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			id, err := loanIDArg(c)
			if err != nil {
				return err
			}
			cl := newClient(c)
			result, err := cl.PayLoan(c.Context, id, c.Float64("amount"))
			if err != nil {
				return err
			}
			return printResult(c, result)
		},
	}
}

func loanIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected LOAN_ID argument")
	}
	id, err := parseID(c.Args().Get(0))
	if err != nil {
		return 0, fmt.Errorf("invalid loan id: %w", err)
	}
	return id, nil
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
