package feepayer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-zulfiqar/solana-paymaster/internal/breaker"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type refreshResult struct {
	pub     solana.PublicKey
	balance uint64
	err     error
}

// RefreshBalances fetches every non-retired payer's balance through the pool breaker.
// Fetches run concurrently without the pool lock; results are applied under one short lock.
// A payer that fails UnhealthyFailureThreshold times in a row is skipped for UnhealthyCooldown.
// While the breaker is not closed payers are fetched one at a time until it closes,
// since half-open admits only HalfOpenMaxRequests calls.
func (p *Pool) RefreshBalances(ctx context.Context) error {
	p.mu.Lock()
	targets := make([]solana.PublicKey, 0, len(p.payers))
	for _, py := range p.payers {
		if py.status != Retired {
			targets = append(targets, py.pub)
		}
	}
	p.mu.Unlock()

	results := make([]refreshResult, len(targets))
	fetch := func(i int) {
		var bal uint64
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			var ferr error
			bal, ferr = p.cfg.Fetcher.GetBalance(ctx, targets[i])
			return ferr
		})
		results[i] = refreshResult{pub: targets[i], balance: bal, err: err}
	}

	next := 0
	for next < len(targets) && p.breaker.State() != breaker.Closed {
		fetch(next)
		next++
		if results[next-1].err != nil {
			break
		}
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.RefreshConcurrency)
	for i := next; i < len(targets); i++ {
		g.Go(func() error {
			fetch(i)
			return nil
		})
	}
	_ = g.Wait()

	return p.applyRefresh(results)
}

func (p *Pool) applyRefresh(results []refreshResult) error {
	now := p.cfg.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var failed int
	var firstErr error
	for _, r := range results {
		py, ok := p.byAddress[r.pub]
		if !ok {
			continue
		}
		addr := r.pub.String()

		if r.err == nil {
			py.balance = r.balance
			py.consecutiveFailures = 0
			py.lastRefresh = now
			py.lastError = ""
			p.cfg.Metrics.RecordPayerBalance(addr, r.balance)
			p.cfg.Metrics.RecordPayerRefresh(addr, "ok")
			if r.balance < WarningBalance {
				p.logger.WithFields(logrus.Fields{
					"payer":    addr,
					"lamports": r.balance,
				}).Warn("fee payer balance below warning threshold")
			}
			continue
		}

		failed++
		if firstErr == nil {
			firstErr = r.err
		}
		// a rejected call says nothing about this payer
		if errors.Is(r.err, breaker.ErrOpen) || errors.Is(r.err, context.Canceled) {
			p.cfg.Metrics.RecordPayerRefresh(addr, "skipped")
			p.logger.WithFields(logrus.Fields{
				"payer":   addr,
				"breaker": p.breaker.Name(),
			}).WithError(r.err).Debug("balance refresh skipped")
			continue
		}

		py.lastError = r.err.Error()

		p.cfg.Metrics.RecordPayerRefresh(addr, "error")
		py.consecutiveFailures++
		if py.consecutiveFailures >= p.cfg.UnhealthyFailureThreshold {
			py.unhealthyUntil = now.Add(p.cfg.UnhealthyCooldown)
			py.consecutiveFailures = 0
			p.logger.WithFields(logrus.Fields{
				"payer":    addr,
				"cooldown": p.cfg.UnhealthyCooldown,
			}).WithError(r.err).Warn("fee payer marked unhealthy")
		}
	}

	if failed > 0 {
		return fmt.Errorf("balance refresh failed for %d of %d payers: %w", failed, len(results), firstErr)
	}
	return nil
}

// GetHealthSummary buckets non-retired payers: healthy at or above MinHealthyBalance,
// warning at or above WarningBalance, critical below that
func (p *Pool) GetHealthSummary() HealthSummary {
	now := p.cfg.Now()
	circuit := p.breaker.State().String()

	p.mu.Lock()
	defer p.mu.Unlock()

	s := HealthSummary{
		ActiveReservations: len(p.reservations),
		CircuitState:       circuit,
	}
	for _, py := range p.payers {
		if py.status == Retired {
			s.Retired++
			continue
		}
		s.Total++
		if py.status == Retiring {
			s.Retiring++
		}
		if now.Before(py.unhealthyUntil) {
			s.Unhealthy++
		}
		s.TotalBalance += py.balance
		s.TotalReserved += py.reserved

		switch {
		case py.balance >= p.cfg.MinHealthyBalance && py.balance >= WarningBalance:
			s.Healthy++
		case py.balance >= WarningBalance:
			s.Warning++
		default:
			s.Critical++
		}
	}
	return s
}
