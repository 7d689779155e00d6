package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "paymasterctl",
		Usage: "Operate a Solana fee payer paymaster",
		Description: `Inspect and control a running paymaster, or validate transactions offline.

Admin commands talk to the paymaster HTTP API and need the admin key.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Commands: []*cli.Command{
			validateCommand(),
			healthCommand(),
			payersCommand(),
			{
				Name:  "payer",
				Usage: "Fee payer key rotation",
				Subcommands: []*cli.Command{
					payerStatusCommand(),
				},
			},
			{
				Name:  "circuit",
				Usage: "Fee payer pool circuit breaker",
				Subcommands: []*cli.Command{
					circuitOpenCommand(),
					circuitCloseCommand(),
				},
			},
			{
				Name:  "events",
				Usage: "Security and relay event streams",
				Subcommands: []*cli.Command{
					tailEventsCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Paymaster API base URL",
				EnvVars: []string{"PAYMASTER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "admin-key",
				Usage:   "Admin API key",
				EnvVars: []string{"ADMIN_API_KEY"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
