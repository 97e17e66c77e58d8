package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func deployCommands() *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "On-chain program deployment commands",
		Subcommands: []*cli.Command{
			deployProgramCommand(),
			deployStatusCommand(),
			programInfoCommand(),
		},
	}
}

func deployProgramCommand() *cli.Command {
	return &cli.Command{
		Name:      "program",
		Usage:     "Deploy a compiled program binary",
		ArgsUsage: "BINARY_PATH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected BINARY_PATH argument")
			}
			path := c.Args().Get(0)
			binary, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read binary: %w", err)
			}
			if len(binary) == 0 {
				return fmt.Errorf("binary %s is empty", path)
			}

			fmt.Fprintf(os.Stderr, "deploying %d bytes, this can take a while...\n", len(binary))

			cl := newClient(c)
			result, err := cl.DeployProgram(c.Context, binary)
			if err != nil {
				return err
			}
			return printResult(c, result)
		},
	}
}

func deployStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the confirmation status of a deployment signature",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected SIGNATURE argument")
			}
			cl := newClient(c)
			status, err := cl.DeployStatus(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			return printResult(c, map[string]string{
				"signature": c.Args().Get(0),
				"status":    status,
			})
		},
	}
}

func programInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show whether a program account exists on-chain",
		ArgsUsage: "PROGRAM_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected PROGRAM_ID argument")
			}
			cl := newClient(c)
			info, err := cl.GetProgramInfo(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			return printResult(c, info)
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			if err := cl.Health(c.Context); err != nil {
				return err
			}
			return printResult(c, map[string]string{"status": "ok"})
		},
	}
}
