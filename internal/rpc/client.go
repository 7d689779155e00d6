package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Client is an HTTP client with retry and timeout support for Solana RPC
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxRetries   int
	retryBackoff time.Duration
	commitment   string
	logger       *logrus.Logger
}

// ClientConfig holds configuration for the RPC client
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Commitment   string // default "confirmed"
	Logger       *logrus.Logger
}

// NewClient creates a new RPC client with retry support
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:      cfg.BaseURL,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		commitment:   cfg.Commitment,
		logger:       cfg.Logger,
	}
}

// Call makes a JSON-RPC call, retrying transient failures with exponential backoff
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBackoff
	policy.MaxInterval = c.retryBackoff * 16

	notify := func(err error, next time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"backoff": next,
		}).WithError(err).Debug("retrying RPC call")
	}

	operation := func() (json.RawMessage, error) {
		raw, err := c.doRequest(ctx, data)
		if err != nil {
			if !IsTransient(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
		}
		if env.Error != nil {
			if !IsTransient(env.Error) {
				return nil, backoff.Permanent(env.Error)
			}
			return nil, env.Error
		}
		return env.Result, nil
	}

	raw, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(notify))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", method, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(data))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}

// GetBalance returns the lamport balance of an account
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	params := []any{
		account.String(),
		map[string]any{"commitment": c.commitment},
	}

	var out BalanceResult
	if err := c.Call(ctx, "getBalance", params, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// GetLatestBlockhash fetches the most recent blockhash
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	params := []any{
		map[string]any{"commitment": c.commitment},
	}

	var out LatestBlockhashResult
	if err := c.Call(ctx, "getLatestBlockhash", params, &out); err != nil {
		return solana.Hash{}, 0, err
	}

	hash, err := solana.HashFromBase58(out.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, 0, fmt.Errorf("invalid blockhash format: %w", err)
	}
	return hash, out.Value.LastValidBlockHeight, nil
}

// SendTransaction submits a fully signed transaction and returns its signature
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, opts *SendOptions) (string, error) {
	if opts == nil {
		defaultOpts := DefaultSendOptions()
		opts = &defaultOpts
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}

	cfg := map[string]any{
		"encoding":            "base64",
		"skipPreflight":       opts.SkipPreflight,
		"preflightCommitment": opts.PreflightCommitment,
	}
	if opts.MaxRetries != nil {
		cfg["maxRetries"] = *opts.MaxRetries
	}

	var sig string
	params := []any{base64.StdEncoding.EncodeToString(txBytes), cfg}
	if err := c.Call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// SimulateTransaction simulates a transaction without signature verification
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	var out struct {
		Value struct {
			Err           interface{} `json:"err"`
			Logs          []string    `json:"logs"`
			UnitsConsumed uint64      `json:"unitsConsumed,omitempty"`
		} `json:"value"`
	}

	params := []any{
		base64.StdEncoding.EncodeToString(txBytes),
		map[string]any{
			"encoding":   "base64",
			"commitment": "processed",
			"sigVerify":  false,
		},
	}
	if err := c.Call(ctx, "simulateTransaction", params, &out); err != nil {
		return nil, err
	}

	result := &SimulationResult{
		Success:       out.Value.Err == nil,
		Logs:          out.Value.Logs,
		UnitsConsumed: out.Value.UnitsConsumed,
	}
	if out.Value.Err != nil {
		result.Error = fmt.Sprintf("%v", out.Value.Err)
	}
	return result, nil
}

// GetSignatureStatus returns the status of one signature, or nil if the node has not seen it
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	var out struct {
		Value []*SignatureStatus `json:"value"`
	}

	params := []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	}
	if err := c.Call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}
