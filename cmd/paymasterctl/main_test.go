package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/aman-zulfiqar/solana-paymaster/internal/server"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"paymasterctl"}, args...))
	return out.String(), err
}

// signedTransfer returns a base64 transfer from user, paid by payer, signed only by user
func signedTransfer(t *testing.T, payer solana.PublicKey, user solana.PrivateKey, from solana.PublicKey) string {
	t.Helper()
	ix := system.NewTransferInstruction(1000, from, solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{9}, solana.TransactionPayer(payer))
	require.NoError(t, err)

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	for i, k := range tx.Message.AccountKeys {
		if k.Equals(user.PublicKey()) {
			tx.Signatures[i], err = user.Sign(msg)
			require.NoError(t, err)
		}
	}
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestValidateCommand(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PrivateKey

	t.Run("valid", func(t *testing.T) {
		encoded := signedTransfer(t, payer, user, user.PublicKey())
		out, err := run(t, "validate", "--user", user.PublicKey().String(), "--fee-payers", payer.String(), encoded)
		require.NoError(t, err)
		assert.Contains(t, out, "✓ valid legacy transaction")
	})

	t.Run("drain is rejected", func(t *testing.T) {
		encoded := signedTransfer(t, payer, user, payer)
		out, err := run(t, "--json", "validate", "--user", user.PublicKey().String(), "--fee-payers", payer.String(), encoded)
		require.Error(t, err)

		var res map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, false, res["valid"])
	})

	t.Run("missing argument", func(t *testing.T) {
		_, err := run(t, "validate", "--user", user.PublicKey().String(), "--fee-payers", payer.String())
		assert.Error(t, err)
	})
}

func TestPayersCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/fee-payers", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Admin-Key"))
		_ = json.NewEncoder(w).Encode(server.PayersResponse{
			Items:   []feepayer.PayerInfo{{Address: "Payer1", Status: feepayer.Retiring, BalanceLamports: 42}},
			Summary: feepayer.HealthSummary{Total: 1, Healthy: 1, CircuitState: "closed"},
		})
	}))
	defer srv.Close()

	out, err := run(t, "--server-url", srv.URL, "--admin-key", "secret", "payers")
	require.NoError(t, err)
	assert.Contains(t, out, "Payer1")
	assert.Contains(t, out, "retiring")
	assert.Contains(t, out, "balance 42")
}

func TestPayerStatusCommand(t *testing.T) {
	var got server.PayerStatusRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/fee-payers/Payer1/status", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := run(t, "--server-url", srv.URL, "payer", "status", "Payer1", "retired")
	require.NoError(t, err)
	assert.Equal(t, "retired", got.Status)

	_, err = run(t, "--server-url", srv.URL, "payer", "status", "Payer1")
	assert.Error(t, err)
}

func TestCircuitCloseCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(server.ErrorResponse{Error: "Unauthorized", Code: 401})
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := run(t, "--server-url", srv.URL, "circuit", "close")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	out, err := run(t, "--server-url", srv.URL, "--admin-key", "secret", "circuit", "close")
	require.NoError(t, err)
	assert.Contains(t, out, "Circuit closed")

	out, err = run(t, "--server-url", srv.URL, "--admin-key", "secret", "circuit", "open")
	require.NoError(t, err)
	assert.Contains(t, out, "Circuit opened")
}
