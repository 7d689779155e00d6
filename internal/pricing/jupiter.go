package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// JupiterClient fetches swap quotes from the Jupiter aggregator
type JupiterClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewJupiterClient(baseURL, apiKey string) *JupiterClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.jup.ag/swap/v1"
	}
	return &JupiterClient{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(apiKey),
		HTTP: &http.Client{
			Timeout: 12 * time.Second,
		},
	}
}

type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("jupiter http %d", e.StatusCode)
	}
	return fmt.Sprintf("jupiter http %d: %s", e.StatusCode, b)
}

type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SwapMode    string // ExactIn | ExactOut
	SlippageBps *uint16
}

type QuoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	SwapMode       string `json:"swapMode"`
	SlippageBps    uint16 `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`
	ContextSlot    uint64 `json:"contextSlot,omitempty"`
}

// InAmountUint parses the quoted input amount
func (r *QuoteResponse) InAmountUint() (uint64, error) {
	v, err := strconv.ParseUint(r.InAmount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid jupiter inAmount %q: %w", r.InAmount, err)
	}
	return v, nil
}

func (c *JupiterClient) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	if strings.TrimSpace(req.InputMint) == "" {
		return nil, fmt.Errorf("inputMint is required")
	}
	if strings.TrimSpace(req.OutputMint) == "" {
		return nil, fmt.Errorf("outputMint is required")
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("amount is required")
	}

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	if req.SwapMode != "" {
		q.Set("swapMode", req.SwapMode)
	}
	if req.SlippageBps != nil {
		q.Set("slippageBps", fmt.Sprintf("%d", *req.SlippageBps))
	}

	u := c.BaseURL + "/quote?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("accept", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.APIKey)
	}

	res, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: body}
	}

	var out QuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode jupiter quote response: %w", err)
	}
	return &out, nil
}
