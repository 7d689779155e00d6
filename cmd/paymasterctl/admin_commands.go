package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/server"
	"github.com/urfave/cli/v2"
)

// apiRequest calls the paymaster API with the admin key and decodes a JSON body into out
func apiRequest(c *cli.Context, method, path string, body, out any) error {
	serverURL := strings.TrimRight(c.String("server-url"), "/")
	if serverURL == "" {
		return fmt.Errorf("server-url is required (set PAYMASTER_URL env var or use --server-url)")
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(c.Context, method, serverURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.String("admin-key"); key != "" {
		req.Header.Set("X-Admin-Key", key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var apiErr server.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check paymaster health",
		Action: func(c *cli.Context) error {
			var out map[string]any
			if err := apiRequest(c, http.MethodGet, "/v1/health", nil, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, out)
			}
			fmt.Fprintf(c.App.Writer, "✓ Paymaster is healthy\n")
			return nil
		},
	}
}

func payersCommand() *cli.Command {
	return &cli.Command{
		Name:  "payers",
		Usage: "List fee payers with balances and reservations",
		Action: func(c *cli.Context) error {
			var out server.PayersResponse
			if err := apiRequest(c, http.MethodGet, "/v1/admin/fee-payers", nil, &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, out)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Circuit: %s  healthy %d/%d  reservations %d\n",
				out.Summary.CircuitState, out.Summary.Healthy, out.Summary.Total, out.Summary.ActiveReservations)
			for _, p := range out.Items {
				flag := ""
				if p.Unhealthy {
					flag = " (unhealthy)"
				}
				fmt.Fprintf(w, "  %s  %-8s  balance %d  reserved %d  reservations %d%s\n",
					p.Address, p.Status, p.BalanceLamports, p.ReservedLamports, p.Reservations, flag)
			}
			return nil
		},
	}
}

func payerStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Set a fee payer's rotation status",
		ArgsUsage: "[address] [active|retiring|retired]",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("address and status are required")
			}
			address, status := c.Args().Get(0), c.Args().Get(1)
			path := "/v1/admin/fee-payers/" + address + "/status"
			if err := apiRequest(c, http.MethodPost, path, server.PayerStatusRequest{Status: status}, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ %s is now %s\n", address, status)
			return nil
		},
	}
}

func circuitOpenCommand() *cli.Command {
	return &cli.Command{
		Name:  "open",
		Usage: "Trip the fee payer pool circuit breaker so no new quotes are reserved",
		Action: func(c *cli.Context) error {
			if err := apiRequest(c, http.MethodPost, "/v1/admin/circuit/open", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Circuit opened\n")
			return nil
		},
	}
}

func circuitCloseCommand() *cli.Command {
	return &cli.Command{
		Name:  "close",
		Usage: "Force-close the fee payer pool circuit breaker",
		Action: func(c *cli.Context) error {
			if err := apiRequest(c, http.MethodPost, "/v1/admin/circuit/close", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Circuit closed\n")
			return nil
		},
	}
}
