package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// validateCommand runs the transaction validator locally against a list of pool addresses
func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a base64 transaction offline",
		ArgsUsage: "[base64_transaction]",
		Description: `Run the same checks the paymaster applies before co-signing, without any network access.

Example:
  paymasterctl validate --user <USER> --fee-payers <P1>,<P2> AQAB...`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Usage:    "Address whose signature must be present",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "fee-payers",
				Usage:    "Comma-separated pool wallet addresses",
				EnvVars:  []string{"FEE_PAYER_ADDRESSES"},
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "max-compute-unit-price",
				Usage: "Reject priority fees above this many micro-lamports per unit (0 disables)",
				Value: 1_000_000,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("base64 transaction is required")
			}

			user, err := solana.PublicKeyFromBase58(c.String("user"))
			if err != nil {
				return fmt.Errorf("invalid user: %w", err)
			}
			var pool []solana.PublicKey
			for _, s := range strings.Split(c.String("fee-payers"), ",") {
				if s = strings.TrimSpace(s); s == "" {
					continue
				}
				pk, err := solana.PublicKeyFromBase58(s)
				if err != nil {
					return fmt.Errorf("invalid fee payer %q: %w", s, err)
				}
				pool = append(pool, pk)
			}

			v := txvalidator.New(txvalidator.Config{MaxComputeUnitPrice: c.Uint64("max-compute-unit-price")})
			res, err := v.Validate(c.Args().Get(0), txvalidator.NewAddressSet(pool), user)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printResult(c, res)
			}

			if !res.Valid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func printResult(c *cli.Context, res *txvalidator.Result) {
	w := c.App.Writer
	if w == nil {
		w = os.Stdout
	}
	if res.Valid {
		fmt.Fprintf(w, "✓ valid %s transaction (%d bytes)\n", res.Version, res.SizeBytes)
	} else {
		fmt.Fprintf(w, "✗ invalid %s transaction (%d bytes)\n", res.Version, res.SizeBytes)
	}
	fmt.Fprintf(w, "  Fee payer:    %s\n", res.FeePayer)
	fmt.Fprintf(w, "  Replay key:   %s\n", res.ReplayKey)
	fmt.Fprintf(w, "  Message hash: %s\n", res.MessageHash)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}
