package paymaster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/audit"
	"github.com/aman-zulfiqar/solana-paymaster/internal/events"
	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/aman-zulfiqar/solana-paymaster/internal/rpc"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Validate checks a user-signed transaction against the current pool without relaying it
func (s *Service) Validate(ctx context.Context, encoded, user string) (*txvalidator.Result, error) {
	pk, err := parseUser(user)
	if err != nil {
		return nil, err
	}
	res, err := s.deps.Validator.Validate(encoded, s.poolSet(), pk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.reportSecurity(ctx, "", pk.String(), res)
	return res, nil
}

type SubmitRequest struct {
	QuoteID     string `json:"quote_id"`
	Transaction string `json:"transaction"`
}

type SubmitResult struct {
	QuoteID     string `json:"quote_id"`
	Signature   string `json:"signature"`
	FeePayer    string `json:"fee_payer"`
	MessageHash string `json:"message_hash"`
}

// Submit validates the transaction against its quote, co-signs it as the reserved fee payer and broadcasts it.
// The quote's reservation is released whatever the outcome.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	start := time.Now()

	q, err := s.GetQuote(ctx, req.QuoteID)
	if err != nil {
		return nil, err
	}
	if q.Status != quote.StatusPending {
		return nil, ErrQuoteUsed
	}
	if _, ok := s.deps.Pool.GetReservation(q.ID); !ok {
		return nil, ErrQuoteExpired
	}

	// one submission per quote, even across replicas
	if err := s.deps.Quotes.ClaimReplay(ctx, "quote:"+q.ID, q.ID, s.cfg.ReplayTTL); err != nil {
		if errors.Is(err, quote.ErrReplay) {
			return nil, ErrQuoteUsed
		}
		return nil, err
	}
	defer s.deps.Pool.ReleaseReservation(q.ID)

	result, err := s.submit(ctx, q, req.Transaction)

	status := "submitted"
	if err != nil {
		status = relayStatus(err)
	}
	s.cfg.Metrics.RecordRelay(status, time.Since(start).Seconds())
	return result, err
}

func (s *Service) submit(ctx context.Context, q *quote.Quote, encoded string) (*SubmitResult, error) {
	user, err := parseUser(q.User)
	if err != nil {
		return nil, err
	}

	res, err := s.deps.Validator.Validate(encoded, s.poolSet(), user)
	if err != nil {
		s.fail(ctx, q, nil, audit.OutcomeRejected, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if res.Transaction != nil && res.FeePayer.String() != q.FeePayer {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("fee payer %s does not match quoted fee payer %s", res.FeePayer, q.FeePayer))
	}
	s.checkFee(q, res)
	s.reportSecurity(ctx, q.ID, q.User, res)
	if !res.Valid {
		verr := &ValidationError{Result: res}
		s.fail(ctx, q, res, audit.OutcomeRejected, verr)
		return nil, verr
	}

	claim := replayClaim(res)
	if err := s.deps.Quotes.ClaimReplay(ctx, claim, q.ID, s.cfg.ReplayTTL); err != nil {
		if errors.Is(err, quote.ErrReplay) {
			s.publish(ctx, &events.Event{
				Kind:        events.KindReplayRejected,
				QuoteID:     q.ID,
				User:        q.User,
				MessageHash: res.MessageHash,
			})
		}
		s.fail(ctx, q, res, audit.OutcomeRejected, err)
		return nil, err
	}

	signer, ok := s.deps.Pool.Signer(res.FeePayer)
	if !ok {
		_ = s.deps.Quotes.ReleaseReplay(ctx, claim)
		err := fmt.Errorf("%w: fee payer %s no longer in pool", ErrRelayFailed, res.FeePayer)
		s.fail(ctx, q, res, audit.OutcomeFailed, err)
		return nil, err
	}

	tx := res.Transaction.Underlying()
	if err := s.simulate(ctx, q, res, tx); err != nil {
		_ = s.deps.Quotes.ReleaseReplay(ctx, claim)
		return nil, err
	}
	if err := signer.CoSign(tx); err != nil {
		_ = s.deps.Quotes.ReleaseReplay(ctx, claim)
		err = fmt.Errorf("%w: %v", ErrRelayFailed, err)
		s.fail(ctx, q, res, audit.OutcomeFailed, err)
		return nil, err
	}

	sig, err := s.deps.Sender.SendTransaction(ctx, tx, nil)
	if err != nil {
		// a node-side rejection means nothing was broadcast; anything else may have landed
		var rpcErr *rpc.RPCError
		if errors.As(err, &rpcErr) {
			_ = s.deps.Quotes.ReleaseReplay(ctx, claim)
		}
		err = fmt.Errorf("%w: %v", ErrRelayFailed, err)
		s.fail(ctx, q, res, audit.OutcomeFailed, err)
		return nil, err
	}

	now := s.cfg.Now().UTC()
	q.Status = quote.StatusSubmitted
	q.Signature = sig
	q.MessageHash = res.MessageHash
	q.SubmittedAt = &now
	if err := s.deps.Quotes.MarkSubmitted(ctx, q); err != nil {
		s.logger.WithError(err).WithField("quote_id", q.ID).Error("failed to mark quote submitted")
	}

	s.audit(ctx, q, res, audit.OutcomeSubmitted, nil)
	s.publish(ctx, &events.Event{
		Kind:        events.KindRelaySubmitted,
		QuoteID:     q.ID,
		FeePayer:    q.FeePayer,
		User:        q.User,
		MessageHash: res.MessageHash,
		Signature:   sig,
	})

	s.logger.WithFields(logrus.Fields{
		"quote_id":  q.ID,
		"signature": sig,
		"fee_payer": q.FeePayer,
		"version":   res.Version,
	}).Info("transaction relayed")

	return &SubmitResult{
		QuoteID:     q.ID,
		Signature:   sig,
		FeePayer:    q.FeePayer,
		MessageHash: res.MessageHash,
	}, nil
}

// checkFee rejects a transaction that would cost the fee payer more than the quote priced
func (s *Service) checkFee(q *quote.Quote, res *txvalidator.Result) {
	if res.Transaction == nil {
		return
	}
	sigs := res.Transaction.NumRequiredSignatures()
	fee := s.deps.Pricer.NetworkFeeLamports(sigs, res.PriorityFeeLamports())
	if fee <= q.NetworkFeeLamports {
		return
	}
	res.Valid = false
	res.Errors = append(res.Errors, fmt.Sprintf(
		"transaction fee %d lamports (%d signatures, %d priority) exceeds quoted %d lamports",
		fee, sigs, res.PriorityFeeLamports(), q.NetworkFeeLamports))
}

// simulate dry-runs tx without signature checks so a failing transaction is never co-signed
func (s *Service) simulate(ctx context.Context, q *quote.Quote, res *txvalidator.Result, tx *solana.Transaction) error {
	if !s.cfg.SimulateBeforeSend || s.deps.Chain == nil {
		return nil
	}
	sim, err := s.deps.Chain.SimulateTransaction(ctx, tx)
	if err != nil {
		err = fmt.Errorf("%w: simulation: %v", ErrRelayFailed, err)
		s.fail(ctx, q, res, audit.OutcomeFailed, err)
		return err
	}
	if sim.Success {
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"quote_id":       q.ID,
		"message_hash":   res.MessageHash,
		"units_consumed": sim.UnitsConsumed,
		"sim_error":      sim.Error,
	}).Info("transaction failed simulation")

	res.Valid = false
	res.Errors = append(res.Errors, "simulation failed: "+sim.Error)
	verr := &ValidationError{Result: res}
	s.fail(ctx, q, res, audit.OutcomeRejected, verr)
	return verr
}

// replayClaim is the durable nonce key alone, or the blockhash key narrowed to this message,
// since unrelated transactions legitimately share a recent blockhash
func replayClaim(res *txvalidator.Result) string {
	if res.DurableNonce != nil {
		return res.ReplayKey
	}
	return res.ReplayKey + ":" + res.MessageHash
}

func (s *Service) fail(ctx context.Context, q *quote.Quote, res *txvalidator.Result, outcome audit.Outcome, cause error) {
	q.Status = quote.StatusFailed
	q.Error = cause.Error()
	if res != nil {
		q.MessageHash = res.MessageHash
	}
	if err := s.deps.Quotes.MarkSubmitted(ctx, q); err != nil {
		s.logger.WithError(err).WithField("quote_id", q.ID).Error("failed to mark quote failed")
	}
	s.audit(ctx, q, res, outcome, cause)

	if outcome == audit.OutcomeFailed {
		s.publish(ctx, &events.Event{
			Kind:     events.KindRelayFailed,
			QuoteID:  q.ID,
			FeePayer: q.FeePayer,
			User:     q.User,
			Detail:   cause.Error(),
		})
	}
}

func (s *Service) audit(ctx context.Context, q *quote.Quote, res *txvalidator.Result, outcome audit.Outcome, cause error) {
	rec := &audit.Record{
		Timestamp:   s.cfg.Now().UTC(),
		QuoteID:     q.ID,
		User:        q.User,
		FeePayer:    q.FeePayer,
		Signature:   q.Signature,
		FeeLamports: q.FeeLamports,
		FeeMint:     q.FeeMint,
		FeeAmount:   q.FeeAmount,
		Outcome:     outcome,
	}
	if res != nil {
		rec.MessageHash = res.MessageHash
		rec.ReplayKey = res.ReplayKey
		rec.Version = res.Version
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := s.deps.Audit.InsertRelay(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("quote_id", q.ID).Warn("failed to write audit record")
	}
}

// reportSecurity publishes drain attempts and signature failures found in res
func (s *Service) reportSecurity(ctx context.Context, quoteID, user string, res *txvalidator.Result) {
	if len(res.Violations) > 0 {
		s.publish(ctx, &events.Event{
			Kind:        events.KindDrainAttempt,
			QuoteID:     quoteID,
			FeePayer:    res.FeePayer.String(),
			User:        user,
			MessageHash: res.MessageHash,
			Errors:      res.Errors,
		})
	}
	for _, e := range res.Errors {
		if e == txvalidator.MsgSignatureInvalid {
			s.logger.WithFields(logrus.Fields{
				"message_hash": res.MessageHash,
				"user":         user,
			}).Warn("user signature verification failed")
			s.publish(ctx, &events.Event{
				Kind:        events.KindSignatureFailure,
				QuoteID:     quoteID,
				User:        user,
				MessageHash: res.MessageHash,
			})
			return
		}
	}
}

func relayStatus(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return "rejected"
	case errors.Is(err, quote.ErrReplay):
		return "replay"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "failed"
	}
}
