package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// JSON-RPC error codes that indicate a problem with the request rather than the node
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCError represents a JSON-RPC error response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is returned when the node answers with a non-200 status
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return "rate limited (429)"
	}
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// IsTransient reports whether err is worth retrying and should count against a circuit breaker.
// Malformed requests and caller cancellation are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
			return false
		}
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	// network failures, timeouts and undecodable node responses
	return true
}

// envelope is the JSON-RPC response wrapper; Result is decoded by the caller
type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// BalanceResult is the value returned by getBalance
type BalanceResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value uint64 `json:"value"`
}

// LatestBlockhashResult is the value returned by getLatestBlockhash
type LatestBlockhashResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// SignatureStatus is one entry of getSignatureStatuses
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *int        `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// SimulationResult contains simulateTransaction output
type SimulationResult struct {
	Success       bool
	Error         string
	Logs          []string
	UnitsConsumed uint64
}

// SendOptions configures transaction sending behavior
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *int
}

// DefaultSendOptions returns recommended send settings
func DefaultSendOptions() SendOptions {
	maxRetries := 3
	return SendOptions{
		SkipPreflight:       false,
		PreflightCommitment: "processed",
		MaxRetries:          &maxRetries,
	}
}
