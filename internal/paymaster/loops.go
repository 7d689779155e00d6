package paymaster

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Run refreshes balances once, then drives the refresh and expiry-sweep loops until ctx is done
func (s *Service) Run(ctx context.Context) error {
	s.refresh(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.every(ctx, s.cfg.RefreshInterval, s.refresh)
	})
	g.Go(func() error {
		return s.every(ctx, s.cfg.SweepInterval, func(context.Context) { s.Sweep() })
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) every(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Service) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshInterval)
	defer cancel()

	if err := s.deps.Pool.RefreshBalances(ctx); err != nil {
		s.logger.WithError(err).Warn("balance refresh incomplete")
	}
}

// Sweep frees reservations whose quotes have expired and retires drained payers
func (s *Service) Sweep() {
	expired := s.deps.Pool.ExpireReservations(s.cfg.QuoteTTL)
	retired := s.deps.Pool.RetireDrained()

	if len(expired) > 0 || len(retired) > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired": len(expired),
			"retired": len(retired),
		}).Info("reservation sweep")
	}
}
