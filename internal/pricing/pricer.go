package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/sirupsen/logrus"
)

// SOLMint is wrapped SOL; fees quoted in it need no conversion
const SOLMint = "So11111111111111111111111111111111111111112"

var ErrUnsupportedMint = errors.New("fee token not accepted")

// Quoter is the subset of JupiterClient the pricer needs
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error)
}

type Config struct {
	BaseFeeLamports uint64 // per signature
	MarkupBps       uint64
	AcceptedMints   []string
	SlippageBps     uint16
	Logger          *logrus.Logger
}

// Pricer turns a transaction's signature count and priority fee into a fee
// amount denominated in one of the accepted tokens
type Pricer struct {
	cfg      Config
	quoter   Quoter
	accepted map[string]struct{}
	logger   *logrus.Logger
}

func NewPricer(cfg Config, quoter Quoter) *Pricer {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.BaseFeeLamports == 0 {
		cfg.BaseFeeLamports = 5000
	}
	accepted := map[string]struct{}{SOLMint: {}}
	for _, m := range cfg.AcceptedMints {
		if m = strings.TrimSpace(m); m != "" {
			accepted[m] = struct{}{}
		}
	}
	return &Pricer{cfg: cfg, quoter: quoter, accepted: accepted, logger: cfg.Logger}
}

func (p *Pricer) Accepts(mint string) bool {
	_, ok := p.accepted[mint]
	return ok
}

// NetworkFeeLamports is what the cluster charges the fee payer: base fee times
// signatures plus priority fee. The result saturates at MaxUint64.
func (p *Pricer) NetworkFeeLamports(signatures int, priorityLamports uint64) uint64 {
	if signatures < 1 {
		signatures = 1
	}
	hi, base := bits.Mul64(p.cfg.BaseFeeLamports, uint64(signatures))
	if hi != 0 {
		return math.MaxUint64
	}
	fee, carry := bits.Add64(base, priorityLamports, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return fee
}

// FeeLamports is NetworkFeeLamports marked up by MarkupBps, saturating at MaxUint64
func (p *Pricer) FeeLamports(signatures int, priorityLamports uint64) uint64 {
	fee := p.NetworkFeeLamports(signatures, priorityLamports)
	if fee == math.MaxUint64 {
		return fee
	}
	hi, lo := bits.Mul64(fee, p.cfg.MarkupBps)
	if hi >= 10_000 {
		return math.MaxUint64
	}
	markup, _ := bits.Div64(hi, lo, 10_000)
	total, carry := bits.Add64(fee, markup, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return total
}

// Convert returns how much of mint pays for lamports
func (p *Pricer) Convert(ctx context.Context, mint string, lamports uint64) (uint64, error) {
	if !p.Accepts(mint) {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedMint, mint)
	}
	if mint == SOLMint {
		return lamports, nil
	}
	if p.quoter == nil {
		return 0, fmt.Errorf("no price source for %s", mint)
	}

	req := QuoteRequest{
		InputMint:  mint,
		OutputMint: SOLMint,
		Amount:     lamports,
		SwapMode:   "ExactOut",
	}
	if p.cfg.SlippageBps > 0 {
		s := p.cfg.SlippageBps
		req.SlippageBps = &s
	}

	resp, err := p.quoter.Quote(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", mint, err)
	}
	amount, err := resp.InAmountUint()
	if err != nil {
		return 0, err
	}

	p.logger.WithFields(logrus.Fields{
		"mint":     mint,
		"lamports": lamports,
		"amount":   amount,
	}).Debug("fee converted")
	return amount, nil
}
