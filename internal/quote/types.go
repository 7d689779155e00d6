package quote

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("quote not found")
	ErrReplay    = errors.New("transaction already submitted")
	ErrInvalidID = errors.New("invalid quote id")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

// Quote is the priced promise to sponsor one user transaction through a reserved fee payer
type Quote struct {
	ID          string    `json:"id"`
	User        string    `json:"user"`
	FeePayer    string    `json:"fee_payer"`
	FeeMint     string    `json:"fee_mint"`
	FeeAmount   uint64    `json:"fee_amount"`
	FeeLamports uint64    `json:"fee_lamports"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	// what the sponsored transaction may cost the fee payer on chain
	Signatures         int     `json:"signatures"`
	ComputeUnitLimit   *uint32 `json:"compute_unit_limit,omitempty"`
	ComputeUnitPrice   *uint64 `json:"compute_unit_price,omitempty"`
	NetworkFeeLamports uint64  `json:"network_fee_lamports"`

	Signature   string     `json:"signature,omitempty"`
	MessageHash string     `json:"message_hash,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// Expired reports whether the quote can no longer be submitted
func (q *Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}
