package server

import (
	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details
}

// ValidateRequest asks for a dry-run validation of a user-signed transaction
type ValidateRequest struct {
	Transaction string `json:"transaction"` // base64 wire transaction
	User        string `json:"user"`        // address whose signature is checked
}

// ValidateResponse is the validator verdict
type ValidateResponse struct {
	*txvalidator.Result
}

// SubmitResponse is returned after a successful relay
type SubmitResponse struct {
	QuoteID     string `json:"quote_id"`
	Signature   string `json:"signature"`
	FeePayer    string `json:"fee_payer"`
	MessageHash string `json:"message_hash"`
}

// PayersResponse lists every fee payer with pool health
type PayersResponse struct {
	Items   []feepayer.PayerInfo   `json:"items"`
	Summary feepayer.HealthSummary `json:"summary"`
}

// PayerStatusRequest applies a key-rotation transition
type PayerStatusRequest struct {
	Status string `json:"status"` // active | retiring | retired
}
