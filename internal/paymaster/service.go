package paymaster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/audit"
	"github.com/aman-zulfiqar/solana-paymaster/internal/events"
	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/aman-zulfiqar/solana-paymaster/internal/metrics"
	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/aman-zulfiqar/solana-paymaster/internal/rpc"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrQuoteNotFound  = errors.New("quote not found")
	ErrQuoteExpired   = errors.New("quote expired")
	ErrQuoteUsed      = errors.New("quote already used")
	ErrRelayFailed    = errors.New("relay failed")
)

// ValidationError carries a failed verdict back to the caller
type ValidationError struct {
	Result *txvalidator.Result
}

func (e *ValidationError) Error() string {
	return "transaction rejected: " + strings.Join(e.Result.Errors, "; ")
}

// QuoteStore is the persistence the service needs; *quote.Store satisfies it
type QuoteStore interface {
	Save(ctx context.Context, q *quote.Quote) error
	Get(ctx context.Context, id string) (*quote.Quote, error)
	GetBySignature(ctx context.Context, signature string) (*quote.Quote, error)
	Delete(ctx context.Context, id string) error
	MarkSubmitted(ctx context.Context, q *quote.Quote) error
	ClaimReplay(ctx context.Context, key, quoteID string, ttl time.Duration) error
	ReleaseReplay(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// FeePricer is satisfied by *pricing.Pricer
type FeePricer interface {
	Accepts(mint string) bool
	NetworkFeeLamports(signatures int, priorityLamports uint64) uint64
	FeeLamports(signatures int, priorityLamports uint64) uint64
	Convert(ctx context.Context, mint string, lamports uint64) (uint64, error)
}

// Sender broadcasts signed transactions; *rpc.Client satisfies it
type Sender interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts *rpc.SendOptions) (string, error)
}

// Chain is the read side of the cluster; *rpc.Client satisfies it
type Chain interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulationResult, error)
	GetSignatureStatus(ctx context.Context, signature string) (*rpc.SignatureStatus, error)
}

type Config struct {
	QuoteTTL        time.Duration
	SweepInterval   time.Duration
	RefreshInterval time.Duration
	// ReplayTTL bounds how long a submitted message stays claimed; it must outlive blockhash validity
	ReplayTTL time.Duration
	// SimulateBeforeSend runs simulateTransaction before co-signing; needs Deps.Chain
	SimulateBeforeSend bool

	Metrics *metrics.Metrics
	Logger  *logrus.Logger
	Now     func() time.Time
}

type Deps struct {
	Pool      *feepayer.Pool
	Validator *txvalidator.Validator
	Quotes    QuoteStore
	Pricer    FeePricer
	Sender    Sender
	Chain     Chain // optional
	Audit     audit.Recorder
	Events    events.Publisher
}

// Service sponsors user transactions: it quotes, validates, co-signs and relays them
type Service struct {
	cfg    Config
	deps   Deps
	logger *logrus.Logger
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Pool == nil || deps.Validator == nil || deps.Quotes == nil || deps.Pricer == nil || deps.Sender == nil {
		return nil, fmt.Errorf("paymaster: pool, validator, quotes, pricer and sender are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopRecorder{}
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 10 * time.Minute
	}
	return &Service{cfg: cfg, deps: deps, logger: cfg.Logger}, nil
}

func (s *Service) poolSet() txvalidator.AddressSet {
	return txvalidator.NewAddressSet(s.deps.Pool.GetAllFeePayerAddresses())
}

func (s *Service) publish(ctx context.Context, ev *events.Event) {
	ev.Timestamp = s.cfg.Now().UTC()
	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("kind", ev.Kind).Warn("failed to publish event")
	}
}

func parseUser(user string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(user))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid user address: %v", ErrInvalidRequest, err)
	}
	return pk, nil
}
