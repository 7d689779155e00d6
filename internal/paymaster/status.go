package paymaster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/gagliardetto/solana-go"
)

// TransactionStatus joins a relayed signature with its quote and, when available, the cluster's view of it
type TransactionStatus struct {
	Signature    string       `json:"signature"`
	QuoteID      string       `json:"quote_id"`
	Status       quote.Status `json:"status"`
	FeePayer     string       `json:"fee_payer"`
	MessageHash  string       `json:"message_hash"`
	SubmittedAt  *time.Time   `json:"submitted_at,omitempty"`
	Confirmation string       `json:"confirmation,omitempty"`
	Slot         uint64       `json:"slot,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// TransactionStatus looks up a signature this service relayed.
// A cluster lookup failure is logged and leaves Confirmation empty.
func (s *Service) TransactionStatus(ctx context.Context, signature string) (*TransactionStatus, error) {
	if _, err := solana.SignatureFromBase58(signature); err != nil {
		return nil, fmt.Errorf("%w: invalid signature: %v", ErrInvalidRequest, err)
	}

	q, err := s.deps.Quotes.GetBySignature(ctx, signature)
	if err != nil {
		if errors.Is(err, quote.ErrNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, err
	}

	out := &TransactionStatus{
		Signature:   signature,
		QuoteID:     q.ID,
		Status:      q.Status,
		FeePayer:    q.FeePayer,
		MessageHash: q.MessageHash,
		SubmittedAt: q.SubmittedAt,
	}
	if s.deps.Chain == nil {
		return out, nil
	}

	st, err := s.deps.Chain.GetSignatureStatus(ctx, signature)
	if err != nil {
		s.logger.WithError(err).WithField("signature", signature).Warn("failed to fetch signature status")
		return out, nil
	}
	if st == nil {
		out.Confirmation = "unknown"
		return out, nil
	}
	out.Confirmation = st.ConfirmationStatus
	out.Slot = st.Slot
	if st.Err != nil {
		out.Error = fmt.Sprintf("%v", st.Err)
	}
	return out, nil
}
