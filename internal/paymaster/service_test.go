package paymaster

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/audit"
	"github.com/aman-zulfiqar/solana-paymaster/internal/events"
	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/aman-zulfiqar/solana-paymaster/internal/pricing"
	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/aman-zulfiqar/solana-paymaster/internal/rpc"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/aman-zulfiqar/solana-paymaster/internal/wallet"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sol = 1_000_000_000

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticBalances struct{ lamports uint64 }

func (s staticBalances) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	return s.lamports, nil
}

// memQuotes is an in-memory QuoteStore
type memQuotes struct {
	mu     sync.Mutex
	quotes map[string]quote.Quote
	claims map[string]string
}

func newMemQuotes() *memQuotes {
	return &memQuotes{quotes: map[string]quote.Quote{}, claims: map[string]string{}}
}

func (m *memQuotes) Save(_ context.Context, q *quote.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.ID] = *q
	return nil
}

func (m *memQuotes) Get(_ context.Context, id string) (*quote.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, quote.ErrNotFound
	}
	return &q, nil
}

func (m *memQuotes) GetBySignature(ctx context.Context, signature string) (*quote.Quote, error) {
	m.mu.Lock()
	var id string
	for _, q := range m.quotes {
		if q.Signature == signature {
			id = q.ID
		}
	}
	m.mu.Unlock()
	if id == "" {
		return nil, quote.ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *memQuotes) MarkSubmitted(ctx context.Context, q *quote.Quote) error {
	return m.Save(ctx, q)
}

func (m *memQuotes) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, id)
	return nil
}

func (m *memQuotes) ClaimReplay(_ context.Context, key, quoteID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[key]; ok {
		return quote.ErrReplay
	}
	m.claims[key] = quoteID
	return nil
}

func (m *memQuotes) ReleaseReplay(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

func (m *memQuotes) Ping(context.Context) error { return nil }

func (m *memQuotes) claimed(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.claims {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

type fakeSender struct {
	mu  sync.Mutex
	err error
	txs []*solana.Transaction
}

func (f *fakeSender) SendTransaction(_ context.Context, tx *solana.Transaction, _ *rpc.SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.txs = append(f.txs, tx)
	return tx.Signatures[0].String(), nil
}

type fakeChain struct {
	mu        sync.Mutex
	rpcErr    error
	sim       rpc.SimulationResult
	status    *rpc.SignatureStatus
	simulated int
}

func (f *fakeChain) GetLatestBlockhash(context.Context) (solana.Hash, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return solana.Hash{1}, 100, f.rpcErr
}

func (f *fakeChain) SimulateTransaction(context.Context, *solana.Transaction) (*rpc.SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated++
	if f.rpcErr != nil {
		return nil, f.rpcErr
	}
	out := f.sim
	return &out, nil
}

func (f *fakeChain) GetSignatureStatus(context.Context, string) (*rpc.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.rpcErr
}

type memAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memAudit) InsertRelay(_ context.Context, rec *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}
func (m *memAudit) Ping(context.Context) error { return nil }
func (m *memAudit) Close() error               { return nil }

func (m *memAudit) last() audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[len(m.records)-1]
}

type env struct {
	svc     *Service
	pool    *feepayer.Pool
	quotes  *memQuotes
	sender  *fakeSender
	chain   *fakeChain
	audit   *memAudit
	events  *events.MockPublisher
	clock   *fakeClock
	signers []*wallet.Signer
	user    solana.PrivateKey
}

func newEnv(t *testing.T, payers int, balance uint64) *env {
	t.Helper()
	e := &env{
		quotes: newMemQuotes(),
		sender: &fakeSender{},
		chain:  &fakeChain{sim: rpc.SimulationResult{Success: true}},
		audit:  &memAudit{},
		events: events.NewMockPublisher(),
		clock:  &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		user:   solana.NewWallet().PrivateKey,
	}
	for i := 0; i < payers; i++ {
		e.signers = append(e.signers, wallet.FromPrivateKey(solana.NewWallet().PrivateKey))
	}

	pool, err := feepayer.NewPool(feepayer.PoolConfig{
		MinHealthyBalance: sol,
		Fetcher:           staticBalances{lamports: balance},
		Now:               e.clock.Now,
	}, e.signers)
	require.NoError(t, err)
	require.NoError(t, pool.RefreshBalances(context.Background()))
	e.pool = pool

	svc, err := New(Config{QuoteTTL: 2 * time.Minute, Now: e.clock.Now}, Deps{
		Pool:      pool,
		Validator: txvalidator.New(txvalidator.Config{}),
		Quotes:    e.quotes,
		Pricer:    pricing.NewPricer(pricing.Config{BaseFeeLamports: 5000}, nil),
		Sender:    e.sender,
		Chain:     e.chain,
		Audit:     e.audit,
		Events:    e.events,
	})
	require.NoError(t, err)
	e.svc = svc
	return e
}

func (e *env) quote(t *testing.T) *quote.Quote {
	t.Helper()
	q, err := e.svc.Quote(context.Background(), QuoteRequest{User: e.user.PublicKey().String()})
	require.NoError(t, err)
	return q
}

// userTx builds a transfer from the user paid by feePayer, signed only by the user
func (e *env) userTx(t *testing.T, feePayer solana.PublicKey, blockhash solana.Hash, extra ...solana.Instruction) string {
	t.Helper()
	ixs := append([]solana.Instruction{
		system.NewTransferInstruction(1000, e.user.PublicKey(), solana.NewWallet().PublicKey()).Build(),
	}, extra...)
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(feePayer))
	require.NoError(t, err)

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	for i, k := range tx.Message.AccountKeys {
		if k.Equals(e.user.PublicKey()) {
			sig, err := e.user.Sign(msg)
			require.NoError(t, err)
			tx.Signatures[i] = sig
		}
	}

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestQuote_ReservesPayer(t *testing.T) {
	e := newEnv(t, 2, 10*sol)
	q := e.quote(t)

	assert.Equal(t, quote.StatusPending, q.Status)
	assert.Equal(t, pricing.SOLMint, q.FeeMint)
	assert.Equal(t, uint64(10000), q.FeeLamports)
	assert.Equal(t, uint64(10000), q.FeeAmount)
	assert.Equal(t, 2, q.Signatures)
	assert.Equal(t, uint64(10000), q.NetworkFeeLamports)
	assert.Equal(t, e.clock.Now().Add(2*time.Minute), q.ExpiresAt)

	r, ok := e.pool.GetReservation(q.ID)
	require.True(t, ok)
	assert.Equal(t, q.FeePayer, r.Payer.String())
	assert.Equal(t, uint64(10000), r.AmountLamports)

	stored, err := e.svc.GetQuote(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, stored.ID)
}

func TestQuote_PriorityFee(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	limit, price := uint32(1_400_000), uint64(5000)

	q, err := e.svc.Quote(context.Background(), QuoteRequest{
		User:             e.user.PublicKey().String(),
		Signatures:       2,
		ComputeUnitLimit: &limit,
		ComputeUnitPrice: &price,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2*5000+7000), q.FeeLamports)
	assert.Equal(t, uint64(2*5000+7000), q.NetworkFeeLamports)
	require.NotNil(t, q.ComputeUnitPrice)
	assert.Equal(t, price, *q.ComputeUnitPrice)
}

func TestQuote_ComputeUnitPriceCapped(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	svc, err := New(Config{QuoteTTL: time.Minute, Now: e.clock.Now}, Deps{
		Pool:      e.pool,
		Validator: txvalidator.New(txvalidator.Config{MaxComputeUnitPrice: 1_000_000}),
		Quotes:    e.quotes,
		Pricer:    pricing.NewPricer(pricing.Config{BaseFeeLamports: 5000}, nil),
		Sender:    e.sender,
	})
	require.NoError(t, err)

	price := uint64(1_000_001)
	_, err = svc.Quote(context.Background(), QuoteRequest{User: e.user.PublicKey().String(), ComputeUnitPrice: &price})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, e.pool.GetHealthSummary().ActiveReservations)
}

func TestQuote_InvalidRequests(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	ctx := context.Background()
	user := e.user.PublicKey().String()
	over := uint32(txvalidator.MaxComputeUnits + 1)

	_, err := e.svc.Quote(ctx, QuoteRequest{User: "not-a-key"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.Quote(ctx, QuoteRequest{User: user, FeeMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"})
	assert.ErrorIs(t, err, pricing.ErrUnsupportedMint)

	_, err = e.svc.Quote(ctx, QuoteRequest{User: user, Signatures: 13})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.Quote(ctx, QuoteRequest{User: user, ComputeUnitLimit: &over})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, 0, e.pool.GetHealthSummary().ActiveReservations)
}

func TestQuote_NoCapacity(t *testing.T) {
	e := newEnv(t, 1, 0)
	_, err := e.svc.Quote(context.Background(), QuoteRequest{User: e.user.PublicKey().String()})
	assert.ErrorIs(t, err, feepayer.ErrNoCapacity)
}

func TestGetQuote_Errors(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	ctx := context.Background()

	_, err := e.svc.GetQuote(ctx, "missing")
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	_, err = e.svc.GetQuote(ctx, "bad id")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	q := e.quote(t)
	e.clock.Advance(2 * time.Minute)
	_, err = e.svc.GetQuote(ctx, q.ID)
	assert.ErrorIs(t, err, ErrQuoteExpired)
}

func TestSubmit_Success(t *testing.T) {
	e := newEnv(t, 2, 10*sol)
	ctx := context.Background()
	q := e.quote(t)

	encoded := e.userTx(t, solana.MustPublicKeyFromBase58(q.FeePayer), solana.Hash{7})
	out, err := e.svc.Submit(ctx, SubmitRequest{QuoteID: q.ID, Transaction: encoded})
	require.NoError(t, err)
	assert.Equal(t, q.FeePayer, out.FeePayer)
	assert.NotEmpty(t, out.MessageHash)

	require.Len(t, e.sender.txs, 1)
	sent := e.sender.txs[0]
	assert.Equal(t, out.Signature, sent.Signatures[0].String())
	assert.NoError(t, sent.VerifySignatures())

	_, ok := e.pool.GetReservation(q.ID)
	assert.False(t, ok, "reservation released after relay")

	stored, err := e.svc.GetQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.StatusSubmitted, stored.Status)
	assert.Equal(t, out.Signature, stored.Signature)

	assert.Equal(t, audit.OutcomeSubmitted, e.audit.last().Outcome)
	assert.Len(t, e.events.OfKind(events.KindRelaySubmitted), 1)

	_, err = e.svc.Submit(ctx, SubmitRequest{QuoteID: q.ID, Transaction: encoded})
	assert.ErrorIs(t, err, ErrQuoteUsed)
}

func TestSubmit_ReplayRejected(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	ctx := context.Background()
	payer := e.signers[0].PublicKey()

	encoded := e.userTx(t, payer, solana.Hash{7})
	q1 := e.quote(t)
	_, err := e.svc.Submit(ctx, SubmitRequest{QuoteID: q1.ID, Transaction: encoded})
	require.NoError(t, err)

	q2 := e.quote(t)
	_, err = e.svc.Submit(ctx, SubmitRequest{QuoteID: q2.ID, Transaction: encoded})
	assert.ErrorIs(t, err, quote.ErrReplay)
	assert.Len(t, e.sender.txs, 1)
	assert.Len(t, e.events.OfKind(events.KindReplayRejected), 1)

	_, ok := e.pool.GetReservation(q2.ID)
	assert.False(t, ok)

	// same blockhash, different message
	q3 := e.quote(t)
	_, err = e.svc.Submit(ctx, SubmitRequest{QuoteID: q3.ID, Transaction: e.userTx(t, payer, solana.Hash{7})})
	assert.NoError(t, err)
}

func TestSubmit_DrainRejected(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	q := e.quote(t)
	payer := e.signers[0].PublicKey()

	drain := system.NewTransferInstruction(sol, payer, e.user.PublicKey()).Build()
	_, err := e.svc.Submit(context.Background(), SubmitRequest{
		QuoteID:     q.ID,
		Transaction: e.userTx(t, payer, solana.Hash{7}, drain),
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Result.Violations)
	assert.Contains(t, verr.Error(), "fee payer wallet as source")
	assert.Empty(t, e.sender.txs)

	assert.Len(t, e.events.OfKind(events.KindDrainAttempt), 1)
	assert.Equal(t, audit.OutcomeRejected, e.audit.last().Outcome)

	_, ok := e.pool.GetReservation(q.ID)
	assert.False(t, ok)

	stored, err := e.svc.GetQuote(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.StatusFailed, stored.Status)
}

func TestSubmit_FeeAboveQuoteRejected(t *testing.T) {
	limit, price := uint32(1_400_000), uint64(1_000_000_000)
	extraSigner := solana.NewWallet().PublicKey()

	tests := []struct {
		name  string
		extra []solana.Instruction
	}{
		{
			name: "priority fee",
			extra: []solana.Instruction{
				computebudget.NewSetComputeUnitLimitInstruction(limit).Build(),
				computebudget.NewSetComputeUnitPriceInstruction(price).Build(),
			},
		},
		{
			name: "extra signature",
			extra: []solana.Instruction{
				system.NewTransferInstruction(1, extraSigner, solana.NewWallet().PublicKey()).Build(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 1, 10*sol)
			q := e.quote(t)
			payer := e.signers[0].PublicKey()

			_, err := e.svc.Submit(context.Background(), SubmitRequest{
				QuoteID:     q.ID,
				Transaction: e.userTx(t, payer, solana.Hash{7}, tt.extra...),
			})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), "exceeds quoted 10000 lamports")
			assert.Empty(t, e.sender.txs)
			assert.Equal(t, audit.OutcomeRejected, e.audit.last().Outcome)

			_, ok := e.pool.GetReservation(q.ID)
			assert.False(t, ok)
		})
	}
}

func TestSubmit_QuotedPriorityFeeAccepted(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	limit, price := uint32(300_000), uint64(10_000)
	q, err := e.svc.Quote(context.Background(), QuoteRequest{
		User:             e.user.PublicKey().String(),
		ComputeUnitLimit: &limit,
		ComputeUnitPrice: &price,
	})
	require.NoError(t, err)

	encoded := e.userTx(t, e.signers[0].PublicKey(), solana.Hash{7},
		computebudget.NewSetComputeUnitLimitInstruction(limit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(price).Build(),
	)
	_, err = e.svc.Submit(context.Background(), SubmitRequest{QuoteID: q.ID, Transaction: encoded})
	require.NoError(t, err)
	assert.Len(t, e.sender.txs, 1)
}

func TestSubmit_FeePayerMismatch(t *testing.T) {
	e := newEnv(t, 2, 10*sol)
	q := e.quote(t)

	other := e.signers[0].PublicKey()
	if other.String() == q.FeePayer {
		other = e.signers[1].PublicKey()
	}

	_, err := e.svc.Submit(context.Background(), SubmitRequest{
		QuoteID:     q.ID,
		Transaction: e.userTx(t, other, solana.Hash{7}),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "does not match quoted fee payer")
	assert.Empty(t, e.sender.txs)
}

func TestSubmit_BadSignature(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	q := e.quote(t)

	encoded := e.userTx(t, e.signers[0].PublicKey(), solana.Hash{7})
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff // corrupt the message after signing

	_, err = e.svc.Submit(context.Background(), SubmitRequest{
		QuoteID:     q.ID,
		Transaction: base64.StdEncoding.EncodeToString(raw),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.Errors, txvalidator.MsgSignatureInvalid)
	assert.Len(t, e.events.OfKind(events.KindSignatureFailure), 1)
}

func TestSubmit_SendFailures(t *testing.T) {
	t.Run("node rejection frees the replay claim", func(t *testing.T) {
		e := newEnv(t, 1, 10*sol)
		e.sender.err = &rpc.RPCError{Code: -32002, Message: "Transaction simulation failed"}
		q := e.quote(t)

		_, err := e.svc.Submit(context.Background(), SubmitRequest{
			QuoteID:     q.ID,
			Transaction: e.userTx(t, e.signers[0].PublicKey(), solana.Hash{7}),
		})
		assert.ErrorIs(t, err, ErrRelayFailed)
		assert.False(t, e.quotes.claimed("blockhash:"))
		assert.Equal(t, audit.OutcomeFailed, e.audit.last().Outcome)
		assert.Len(t, e.events.OfKind(events.KindRelayFailed), 1)

		_, ok := e.pool.GetReservation(q.ID)
		assert.False(t, ok)
	})

	t.Run("ambiguous failure keeps the replay claim", func(t *testing.T) {
		e := newEnv(t, 1, 10*sol)
		e.sender.err = errors.New("connection reset")
		q := e.quote(t)

		_, err := e.svc.Submit(context.Background(), SubmitRequest{
			QuoteID:     q.ID,
			Transaction: e.userTx(t, e.signers[0].PublicKey(), solana.Hash{7}),
		})
		assert.ErrorIs(t, err, ErrRelayFailed)
		assert.True(t, e.quotes.claimed("blockhash:"))
	})
}

func TestSubmit_ExpiredQuote(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	q := e.quote(t)
	e.clock.Advance(3 * time.Minute)

	_, err := e.svc.Submit(context.Background(), SubmitRequest{
		QuoteID:     q.ID,
		Transaction: e.userTx(t, e.signers[0].PublicKey(), solana.Hash{7}),
	})
	assert.ErrorIs(t, err, ErrQuoteExpired)
}

func TestSubmit_SweptReservation(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	q := e.quote(t)
	e.pool.ReleaseReservation(q.ID)

	_, err := e.svc.Submit(context.Background(), SubmitRequest{
		QuoteID:     q.ID,
		Transaction: e.userTx(t, e.signers[0].PublicKey(), solana.Hash{7}),
	})
	assert.ErrorIs(t, err, ErrQuoteExpired)
}

func TestSweep(t *testing.T) {
	e := newEnv(t, 2, 10*sol)
	q := e.quote(t)

	require.NoError(t, e.svc.SetPayerStatus(q.FeePayer, "retiring"))

	e.clock.Advance(time.Minute)
	e.svc.Sweep()
	_, ok := e.pool.GetReservation(q.ID)
	assert.True(t, ok, "reservation younger than the quote TTL survives")

	e.clock.Advance(time.Minute)
	e.svc.Sweep()
	_, ok = e.pool.GetReservation(q.ID)
	assert.False(t, ok)

	for _, p := range e.svc.Payers() {
		if p.Address == q.FeePayer {
			assert.Equal(t, feepayer.Retired, p.Status)
		}
	}
}

func TestSetPayerStatus_Invalid(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	assert.ErrorIs(t, e.svc.SetPayerStatus("nope", "active"), ErrInvalidRequest)
	assert.ErrorIs(t, e.svc.SetPayerStatus(e.signers[0].Address(), "paused"), ErrInvalidRequest)
	assert.ErrorIs(t, e.svc.SetPayerStatus(solana.NewWallet().PublicKey().String(), "active"), feepayer.ErrUnknownPayer)
}

func TestValidate_PublishesDrain(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	payer := e.signers[0].PublicKey()
	drain := system.NewTransferInstruction(sol, payer, e.user.PublicKey()).Build()

	res, err := e.svc.Validate(context.Background(), e.userTx(t, payer, solana.Hash{7}, drain), e.user.PublicKey().String())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Len(t, e.events.OfKind(events.KindDrainAttempt), 1)

	_, err = e.svc.Validate(context.Background(), "%%%", e.user.PublicKey().String())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, 2, 10*sol)
	h := e.svc.Health(context.Background())
	assert.True(t, h.OK)
	assert.Equal(t, 2, h.Pool.Healthy)
	assert.Equal(t, uint64(sol), h.MinHealthyBalance)
	assert.Equal(t, "ok", h.Redis)

	low := newEnv(t, 1, 0)
	assert.False(t, low.svc.Health(context.Background()).OK)
}

func TestOperatorCircuitControl(t *testing.T) {
	e := newEnv(t, 1, 10*sol)

	e.svc.OpenCircuit()
	assert.False(t, e.svc.Health(context.Background()).OK)
	_, err := e.svc.Quote(context.Background(), QuoteRequest{User: e.user.PublicKey().String(), FeeMint: pricing.SOLMint})
	assert.ErrorIs(t, err, feepayer.ErrCircuitOpen)

	e.svc.CloseCircuit()
	assert.True(t, e.svc.Health(context.Background()).OK)
	_, err = e.svc.Quote(context.Background(), QuoteRequest{User: e.user.PublicKey().String(), FeeMint: pricing.SOLMint})
	assert.NoError(t, err)
}

// Reserve, validate, release: the reservation is gone afterwards and the pool is whole again.
func TestReserveValidateRelease(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	payer, err := e.pool.ReserveBalance("q1", 50_000)
	require.NoError(t, err)

	res, err := e.svc.Validate(context.Background(), e.userTx(t, payer, solana.Hash{3}), e.user.PublicKey().String())
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Errors)

	r, ok := e.pool.ReleaseReservation("q1")
	require.True(t, ok)
	assert.Equal(t, uint64(50_000), r.AmountLamports)

	_, ok = e.pool.GetReservation("q1")
	assert.False(t, ok)
	assert.Equal(t, uint64(0), e.pool.Payers()[0].ReservedLamports)
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	e.svc.cfg.SweepInterval = 10 * time.Millisecond
	e.svc.cfg.RefreshInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.svc.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubmit_SimulationFailureRejects(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	e.svc.cfg.SimulateBeforeSend = true
	e.chain.sim = rpc.SimulationResult{Success: false, Error: "InsufficientFundsForRent"}
	ctx := context.Background()

	q := e.quote(t)
	encoded := e.userTx(t, solana.MustPublicKeyFromBase58(q.FeePayer), solana.Hash{21})
	_, err := e.svc.Submit(ctx, SubmitRequest{QuoteID: q.ID, Transaction: encoded})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.Errors, "simulation failed: InsufficientFundsForRent")
	assert.Equal(t, 1, e.chain.simulated)
	assert.Empty(t, e.sender.txs, "never co-signed or sent")
	assert.False(t, e.quotes.claimed("blockhash:"), "replay claim released")
	assert.Equal(t, audit.OutcomeRejected, e.audit.last().Outcome)

	// simulation passes on a fresh quote
	e.chain.sim = rpc.SimulationResult{Success: true}
	q = e.quote(t)
	encoded = e.userTx(t, solana.MustPublicKeyFromBase58(q.FeePayer), solana.Hash{21})
	_, err = e.svc.Submit(ctx, SubmitRequest{QuoteID: q.ID, Transaction: encoded})
	require.NoError(t, err)
	assert.Len(t, e.sender.txs, 1)
}

func TestSubmit_SimulationDisabledByDefault(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	q := e.quote(t)
	encoded := e.userTx(t, solana.MustPublicKeyFromBase58(q.FeePayer), solana.Hash{22})

	_, err := e.svc.Submit(context.Background(), SubmitRequest{QuoteID: q.ID, Transaction: encoded})
	require.NoError(t, err)
	assert.Zero(t, e.chain.simulated)
}

func TestTransactionStatus(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	ctx := context.Background()

	q := e.quote(t)
	encoded := e.userTx(t, solana.MustPublicKeyFromBase58(q.FeePayer), solana.Hash{23})
	out, err := e.svc.Submit(ctx, SubmitRequest{QuoteID: q.ID, Transaction: encoded})
	require.NoError(t, err)

	e.chain.status = &rpc.SignatureStatus{Slot: 42, ConfirmationStatus: "confirmed"}
	st, err := e.svc.TransactionStatus(ctx, out.Signature)
	require.NoError(t, err)
	assert.Equal(t, q.ID, st.QuoteID)
	assert.Equal(t, quote.StatusSubmitted, st.Status)
	assert.Equal(t, "confirmed", st.Confirmation)
	assert.Equal(t, uint64(42), st.Slot)
	assert.Equal(t, out.MessageHash, st.MessageHash)

	e.chain.status = nil
	st, err = e.svc.TransactionStatus(ctx, out.Signature)
	require.NoError(t, err)
	assert.Equal(t, "unknown", st.Confirmation)

	_, err = e.svc.TransactionStatus(ctx, "not-a-signature")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.TransactionStatus(ctx, solana.Signature{9}.String())
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestCancelQuote(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	ctx := context.Background()

	q := e.quote(t)
	require.NoError(t, e.svc.CancelQuote(ctx, q.ID))

	_, ok := e.pool.GetReservation(q.ID)
	assert.False(t, ok)
	_, err := e.svc.GetQuote(ctx, q.ID)
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	assert.ErrorIs(t, e.svc.CancelQuote(ctx, q.ID), ErrQuoteNotFound)

	// a submitted quote cannot be cancelled
	q = e.quote(t)
	encoded := e.userTx(t, solana.MustPublicKeyFromBase58(q.FeePayer), solana.Hash{24})
	_, err = e.svc.Submit(ctx, SubmitRequest{QuoteID: q.ID, Transaction: encoded})
	require.NoError(t, err)
	assert.ErrorIs(t, e.svc.CancelQuote(ctx, q.ID), ErrQuoteUsed)
}

func TestHealth_RPCDown(t *testing.T) {
	e := newEnv(t, 1, 10*sol)
	e.chain.rpcErr = errors.New("connection refused")

	h := e.svc.Health(context.Background())
	assert.False(t, h.OK)
	assert.Equal(t, "connection refused", h.RPC)
	assert.Equal(t, "closed", h.Circuit.State)
}
