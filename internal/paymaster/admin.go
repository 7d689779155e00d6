package paymaster

import (
	"context"
	"fmt"

	"github.com/aman-zulfiqar/solana-paymaster/internal/breaker"
	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

type Health struct {
	OK      bool                   `json:"ok"`
	Pool    feepayer.HealthSummary `json:"pool"`
	Circuit breaker.Stats          `json:"circuit"`
	Redis   string                 `json:"redis"`
	RPC     string                 `json:"rpc"`
	Audit   string                 `json:"audit"`

	MinHealthyBalance uint64 `json:"min_healthy_balance"`
}

// Health reports pool state and dependency reachability.
// The service is OK while the quote store and RPC are reachable, the circuit is not open
// and at least one payer is healthy. Audit reachability is reported but never fails health.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Pool:    s.deps.Pool.GetHealthSummary(),
		Circuit: s.deps.Pool.CircuitStats(),
		Redis:   "ok",
		RPC:     "ok",
		Audit:   "ok",

		MinHealthyBalance: s.deps.Pool.MinHealthyBalance(),
	}
	if err := s.deps.Quotes.Ping(ctx); err != nil {
		h.Redis = err.Error()
	}
	if s.deps.Chain != nil {
		if _, _, err := s.deps.Chain.GetLatestBlockhash(ctx); err != nil {
			h.RPC = err.Error()
		}
	}
	if err := s.deps.Audit.Ping(ctx); err != nil {
		h.Audit = err.Error()
	}
	h.OK = h.Redis == "ok" && h.RPC == "ok" && h.Pool.Healthy > 0 && !s.deps.Pool.IsCircuitOpen()
	return h
}

func (s *Service) Payers() []feepayer.PayerInfo {
	return s.deps.Pool.Payers()
}

func (s *Service) CloseCircuit() {
	s.deps.Pool.CloseCircuit()
	s.logger.Warn("fee payer circuit closed by operator")
}

// OpenCircuit stops all new reservations until the reset timeout elapses or an operator closes it
func (s *Service) OpenCircuit() {
	s.deps.Pool.OpenCircuit()
	s.logger.Warn("fee payer circuit opened by operator")
}

// SetPayerStatus applies a key-rotation transition to one fee payer
func (s *Service) SetPayerStatus(address, status string) error {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return fmt.Errorf("%w: invalid fee payer address: %v", ErrInvalidRequest, err)
	}
	st, err := feepayer.ParseStatus(status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.deps.Pool.SetStatus(pk, st); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"payer": address, "status": st.String()}).Info("fee payer status changed")
	return nil
}
