package paymaster

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-zulfiqar/solana-paymaster/internal/pricing"
	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/sirupsen/logrus"
)

// QuoteRequest describes the transaction to sponsor. Signatures counts every required
// signature including the fee payer's, so a plain user transaction needs 2.
type QuoteRequest struct {
	User             string  `json:"user"`
	FeeMint          string  `json:"fee_mint"`
	Signatures       int     `json:"signatures"`
	ComputeUnitLimit *uint32 `json:"compute_unit_limit,omitempty"`
	ComputeUnitPrice *uint64 `json:"compute_unit_price,omitempty"`
}

// Quote prices a sponsored transaction and reserves a fee payer for it until the quote expires
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*quote.Quote, error) {
	user, err := parseUser(req.User)
	if err != nil {
		return nil, err
	}
	if req.FeeMint == "" {
		req.FeeMint = pricing.SOLMint
	}
	if !s.deps.Pricer.Accepts(req.FeeMint) {
		return nil, fmt.Errorf("%w: %s", pricing.ErrUnsupportedMint, req.FeeMint)
	}
	if req.Signatures == 0 {
		req.Signatures = 2
	}
	if req.Signatures < 1 || req.Signatures > 12 {
		return nil, fmt.Errorf("%w: signatures must be between 1 and 12", ErrInvalidRequest)
	}
	if req.ComputeUnitLimit != nil && *req.ComputeUnitLimit > txvalidator.MaxComputeUnits {
		return nil, fmt.Errorf("%w: compute unit limit %d exceeds maximum %d",
			ErrInvalidRequest, *req.ComputeUnitLimit, txvalidator.MaxComputeUnits)
	}

	if maxPrice := s.deps.Validator.MaxComputeUnitPrice(); maxPrice > 0 && req.ComputeUnitPrice != nil && *req.ComputeUnitPrice > maxPrice {
		return nil, fmt.Errorf("%w: compute unit price %d exceeds maximum %d micro-lamports",
			ErrInvalidRequest, *req.ComputeUnitPrice, maxPrice)
	}

	cb := txvalidator.ComputeBudget{UnitLimit: req.ComputeUnitLimit, UnitPrice: req.ComputeUnitPrice}
	priority := cb.PriorityFeeLamports(1)
	network := s.deps.Pricer.NetworkFeeLamports(req.Signatures, priority)
	lamports := s.deps.Pricer.FeeLamports(req.Signatures, priority)

	amount, err := s.deps.Pricer.Convert(ctx, req.FeeMint, lamports)
	if err != nil {
		return nil, err
	}

	id := quote.NewID()
	payer, err := s.deps.Pool.ReserveBalance(id, lamports)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now().UTC()
	q := &quote.Quote{
		ID:          id,
		User:        user.String(),
		FeePayer:    payer.String(),
		FeeMint:     req.FeeMint,
		FeeAmount:   amount,
		FeeLamports: lamports,
		Status:      quote.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.QuoteTTL),

		Signatures:         req.Signatures,
		ComputeUnitLimit:   req.ComputeUnitLimit,
		ComputeUnitPrice:   req.ComputeUnitPrice,
		NetworkFeeLamports: network,
	}
	if err := s.deps.Quotes.Save(ctx, q); err != nil {
		s.deps.Pool.ReleaseReservation(id)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"quote_id":     id,
		"fee_payer":    q.FeePayer,
		"fee_lamports": lamports,
		"fee_mint":     req.FeeMint,
	}).Info("quote issued")
	return q, nil
}

// GetQuote returns a stored quote, treating an expired pending quote as missing
func (s *Service) GetQuote(ctx context.Context, id string) (*quote.Quote, error) {
	if err := quote.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	q, err := s.deps.Quotes.Get(ctx, id)
	if err != nil {
		if errors.Is(err, quote.ErrNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, err
	}
	if q.Status == quote.StatusPending && q.Expired(s.cfg.Now()) {
		return nil, ErrQuoteExpired
	}
	return q, nil
}

// CancelQuote frees a pending quote's reserved capacity before it expires.
// It takes the same single-use claim as Submit, so a quote cannot be cancelled and relayed.
func (s *Service) CancelQuote(ctx context.Context, id string) error {
	q, err := s.GetQuote(ctx, id)
	if err != nil {
		return err
	}
	if q.Status != quote.StatusPending {
		return ErrQuoteUsed
	}
	if err := s.deps.Quotes.ClaimReplay(ctx, "quote:"+q.ID, q.ID, s.cfg.ReplayTTL); err != nil {
		if errors.Is(err, quote.ErrReplay) {
			return ErrQuoteUsed
		}
		return err
	}

	s.deps.Pool.ReleaseReservation(q.ID)
	if err := s.deps.Quotes.Delete(ctx, q.ID); err != nil {
		return err
	}
	s.logger.WithField("quote_id", q.ID).Info("quote cancelled")
	return nil
}
