package feepayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/breaker"
	"github.com/aman-zulfiqar/solana-paymaster/internal/metrics"
	"github.com/aman-zulfiqar/solana-paymaster/internal/rpc"
	"github.com/aman-zulfiqar/solana-paymaster/internal/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// BalanceFetcher is the balance oracle; *rpc.Client satisfies it
type BalanceFetcher interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// PoolConfig holds pool tunables and collaborators
type PoolConfig struct {
	MinHealthyBalance         uint64        // lamports; below this a payer reports "warning"
	UnhealthyFailureThreshold int           // consecutive refresh failures before cooldown
	UnhealthyCooldown         time.Duration // how long a failing payer is skipped
	RefreshConcurrency        int

	Breaker breaker.Config
	Fetcher BalanceFetcher
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
	Now     func() time.Time
}

type payer struct {
	signer *wallet.Signer
	pub    solana.PublicKey

	status              Status
	balance             uint64
	reserved            uint64
	reservations        int
	unhealthyUntil      time.Time
	consecutiveFailures int
	lastRefresh         time.Time
	lastError           string
}

func (p *payer) available() uint64 {
	if p.balance <= p.reserved {
		return 0
	}
	return p.balance - p.reserved
}

// canCover reports whether amount fits while keeping WarningBalance untouched
func (p *payer) canCover(amount uint64) bool {
	avail := p.available()
	return avail >= WarningBalance && avail-WarningBalance >= amount
}

// Pool hands out per-quote balance reservations across a set of fee payers.
// mu guards payers and reservations; no I/O is done while holding it.
type Pool struct {
	cfg     PoolConfig
	breaker *breaker.Breaker
	logger  *logrus.Logger

	mu           sync.Mutex
	payers       []*payer
	byAddress    map[solana.PublicKey]*payer
	reservations map[string]*Reservation
}

// NewPool creates a pool with every signer Active and a zero cached balance.
// Balances become usable after the first RefreshBalances.
func NewPool(cfg PoolConfig, signers []*wallet.Signer) (*Pool, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("feepayer: balance fetcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.UnhealthyFailureThreshold <= 0 {
		cfg.UnhealthyFailureThreshold = 3
	}
	if cfg.UnhealthyCooldown <= 0 {
		cfg.UnhealthyCooldown = 5 * time.Minute
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 8
	}

	bcfg := cfg.Breaker
	if bcfg.Name == "" {
		bcfg.Name = "fee_payer_pool"
	}
	if bcfg.IsFailure == nil {
		bcfg.IsFailure = rpc.IsTransient
	}
	if bcfg.Now == nil {
		bcfg.Now = cfg.Now
	}
	if bcfg.Logger == nil {
		bcfg.Logger = cfg.Logger
	}
	userHook := bcfg.OnStateChange
	bcfg.OnStateChange = func(name string, from, to breaker.State) {
		cfg.Metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	p := &Pool{
		cfg:          cfg,
		breaker:      breaker.New(bcfg),
		logger:       cfg.Logger,
		byAddress:    make(map[solana.PublicKey]*payer, len(signers)),
		reservations: make(map[string]*Reservation),
	}
	for _, s := range signers {
		if err := p.addLocked(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) addLocked(s *wallet.Signer) error {
	pub := s.PublicKey()
	if _, ok := p.byAddress[pub]; ok {
		return fmt.Errorf("%w: %s", ErrPayerExists, pub)
	}
	py := &payer{signer: s, pub: pub, status: Active}
	p.payers = append(p.payers, py)
	p.byAddress[pub] = py
	return nil
}

// ReserveBalance picks a payer for quoteID and sets amountLamports aside on it.
// Returns ErrCircuitOpen while the pool breaker is open and ErrNoCapacity when no payer qualifies.
func (p *Pool) ReserveBalance(quoteID string, amountLamports uint64) (solana.PublicKey, error) {
	if quoteID == "" {
		return solana.PublicKey{}, ErrInvalidQuoteID
	}
	if p.breaker.IsOpen() {
		p.cfg.Metrics.RecordReservation("circuit_open")
		return solana.PublicKey{}, ErrCircuitOpen
	}

	now := p.cfg.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.reservations[quoteID]; exists {
		p.cfg.Metrics.RecordReservation("duplicate")
		return solana.PublicKey{}, fmt.Errorf("%w: %s", ErrReservationExists, quoteID)
	}

	chosen := p.selectLocked(amountLamports, now)
	if chosen == nil {
		p.cfg.Metrics.RecordReservation("no_capacity")
		return solana.PublicKey{}, ErrNoCapacity
	}

	chosen.reserved += amountLamports
	chosen.reservations++
	p.reservations[quoteID] = &Reservation{
		QuoteID:        quoteID,
		Payer:          chosen.pub,
		AmountLamports: amountLamports,
		CreatedAt:      now,
	}

	p.cfg.Metrics.RecordReservation("reserved")
	p.cfg.Metrics.SetActiveReservations(len(p.reservations))
	return chosen.pub, nil
}

// selectLocked returns the least-loaded eligible payer, ties broken by the highest available balance
func (p *Pool) selectLocked(amount uint64, now time.Time) *payer {
	var best *payer
	for _, py := range p.payers {
		if py.status != Active || now.Before(py.unhealthyUntil) {
			continue
		}
		if py.reservations >= MaxReservationsPerPayer || !py.canCover(amount) {
			continue
		}
		if best == nil ||
			py.reservations < best.reservations ||
			(py.reservations == best.reservations && py.available() > best.available()) {
			best = py
		}
	}
	return best
}

// ReleaseReservation removes the reservation for quoteID.
// Releasing an unknown quote is a no-op that returns false.
func (p *Pool) ReleaseReservation(quoteID string) (*Reservation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.releaseLocked(quoteID)
	if ok {
		p.cfg.Metrics.RecordReservationFreed("released", 1)
		p.cfg.Metrics.SetActiveReservations(len(p.reservations))
	}
	return r, ok
}

func (p *Pool) releaseLocked(quoteID string) (*Reservation, bool) {
	r, ok := p.reservations[quoteID]
	if !ok {
		return nil, false
	}
	delete(p.reservations, quoteID)

	if py, ok := p.byAddress[r.Payer]; ok {
		py.reserved -= r.AmountLamports
		py.reservations--
	}
	out := *r
	return &out, true
}

// GetReservation returns a copy of the reservation for quoteID
func (p *Pool) GetReservation(quoteID string) (*Reservation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reservations[quoteID]
	if !ok {
		return nil, false
	}
	out := *r
	return &out, true
}

// ExpireReservations releases every reservation created at least olderThan ago
func (p *Pool) ExpireReservations(olderThan time.Duration) []Reservation {
	cutoff := p.cfg.Now().Add(-olderThan)

	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []Reservation
	for id, r := range p.reservations {
		if r.CreatedAt.After(cutoff) {
			continue
		}
		if out, ok := p.releaseLocked(id); ok {
			expired = append(expired, *out)
		}
	}

	if len(expired) > 0 {
		p.cfg.Metrics.RecordReservationFreed("expired", len(expired))
		p.cfg.Metrics.SetActiveReservations(len(p.reservations))
	}
	return expired
}

// RetireDrained moves Retiring payers with no live reservations to Retired
func (p *Pool) RetireDrained() []solana.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	var retired []solana.PublicKey
	for _, py := range p.payers {
		if py.status == Retiring && py.reservations == 0 {
			py.status = Retired
			retired = append(retired, py.pub)
			p.logger.WithField("payer", py.pub.String()).Info("fee payer retired")
		}
	}
	return retired
}

// SetStatus applies a key-rotation transition. Retired is terminal and
// a payer can only be retired directly once it holds no reservations.
func (p *Pool) SetStatus(address solana.PublicKey, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	py, ok := p.byAddress[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPayer, address)
	}
	if py.status == status {
		return nil
	}
	if py.status == Retired {
		return fmt.Errorf("%w: %s is retired", ErrInvalidTransition, address)
	}
	if status == Retired && py.reservations > 0 {
		return fmt.Errorf("%w: %s has %d live reservations, mark it retiring first",
			ErrInvalidTransition, address, py.reservations)
	}

	p.logger.WithFields(logrus.Fields{
		"payer": address.String(),
		"from":  py.status.String(),
		"to":    status.String(),
	}).Info("fee payer status changed")
	py.status = status
	return nil
}

// AddPayer hot-adds a signer as an Active payer with an unknown balance
func (p *Pool) AddPayer(s *wallet.Signer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(s)
}

// GetAllFeePayerAddresses returns every known payer, whatever its status or health
func (p *Pool) GetAllFeePayerAddresses() []solana.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]solana.PublicKey, len(p.payers))
	for i, py := range p.payers {
		out[i] = py.pub
	}
	return out
}

// Signer returns the signing capability for a pool address
func (p *Pool) Signer(address solana.PublicKey) (*wallet.Signer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	py, ok := p.byAddress[address]
	if !ok {
		return nil, false
	}
	return py.signer, true
}

// Payers returns a snapshot of all payers in configuration order
func (p *Pool) Payers() []PayerInfo {
	now := p.cfg.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PayerInfo, 0, len(p.payers))
	for _, py := range p.payers {
		info := PayerInfo{
			Address:          py.pub.String(),
			Status:           py.status,
			BalanceLamports:  py.balance,
			ReservedLamports: py.reserved,
			Available:        py.available(),
			Reservations:     py.reservations,
			Unhealthy:        now.Before(py.unhealthyUntil),
			LastRefresh:      py.lastRefresh,
			LastError:        py.lastError,
		}
		if info.Unhealthy {
			info.UnhealthyUntil = py.unhealthyUntil
		}
		out = append(out, info)
	}
	return out
}

func (p *Pool) IsCircuitOpen() bool            { return p.breaker.IsOpen() }
func (p *Pool) GetCircuitState() breaker.State { return p.breaker.State() }
func (p *Pool) CircuitStats() breaker.Stats    { return p.breaker.Stats() }
func (p *Pool) CloseCircuit()                  { p.breaker.Reset() }
func (p *Pool) OpenCircuit()                   { p.breaker.ForceOpen() }
func (p *Pool) MinHealthyBalance() uint64      { return p.cfg.MinHealthyBalance }
