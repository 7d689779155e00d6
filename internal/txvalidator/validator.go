package txvalidator

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aman-zulfiqar/solana-paymaster/internal/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

const (
	MaxTransactionSize = 1232
	SignatureSize      = 64
	MaxComputeUnits    = 1_400_000
)

// MsgSignatureInvalid is the Result error for a user signature that does not verify
const MsgSignatureInvalid = "user signature cryptographic verification failed"

// ErrTransactionTooLarge is returned by CheckSize
var ErrTransactionTooLarge = errors.New("transaction too large")

// AddressSet is a snapshot of the pool's fee payer addresses
type AddressSet map[solana.PublicKey]struct{}

func NewAddressSet(keys []solana.PublicKey) AddressSet {
	s := make(AddressSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s AddressSet) Contains(k solana.PublicKey) bool {
	_, ok := s[k]
	return ok
}

// Violation is one drain-scan finding, kept structured for metrics and security events
type Violation struct {
	Instruction int    `json:"instruction"`
	Program     string `json:"program"`
	Opcode      string `json:"opcode"`
	Role        string `json:"role"`
	Account     string `json:"account"`
}

// Result is the verdict for one transaction
type Result struct {
	Valid         bool             `json:"valid"`
	Errors        []string         `json:"errors"`
	FeePayer      solana.PublicKey `json:"fee_payer"`
	Version       string           `json:"version"`
	ReplayKey     string           `json:"replay_key"`
	MessageHash   string           `json:"message_hash"`
	DurableNonce  *DurableNonce    `json:"durable_nonce,omitempty"`
	ComputeBudget ComputeBudget    `json:"compute_budget"`
	Violations    []Violation      `json:"violations,omitempty"`
	SizeBytes     int              `json:"size_bytes"`

	Transaction Transaction `json:"-"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Config holds optional validator limits and collaborators
type Config struct {
	// MaxComputeUnitPrice caps the priority fee price in micro-lamports; zero disables the cap
	MaxComputeUnitPrice uint64

	Metrics *metrics.Metrics
	Logger  *logrus.Logger
}

// Validator decides whether a user transaction is safe to co-sign.
// It does no I/O and holds no mutable state, so one instance is shared by all requests.
type Validator struct {
	cfg    Config
	logger *logrus.Logger
}

func New(cfg Config) *Validator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Validator{cfg: cfg, logger: cfg.Logger}
}

// MaxComputeUnitPrice is the configured price cap in micro-lamports, zero when uncapped
func (v *Validator) MaxComputeUnitPrice() uint64 {
	return v.cfg.MaxComputeUnitPrice
}

// DecodeBase64 decodes the standard base64 wire encoding
func DecodeBase64(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedTransaction, err)
	}
	return raw, nil
}

// CheckSize decodes encoded and rejects payloads above MaxTransactionSize.
// It returns the decoded bytes so callers can continue without decoding twice.
func CheckSize(encoded string) ([]byte, error) {
	raw, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	if err := checkSize(len(raw)); err != nil {
		return raw, err
	}
	return raw, nil
}

func checkSize(n int) error {
	if n > MaxTransactionSize {
		return fmt.Errorf("%w: transaction size %d exceeds maximum %d bytes", ErrTransactionTooLarge, n, MaxTransactionSize)
	}
	return nil
}

// Validate runs the full pipeline on a base64 transaction.
// A bad transaction yields Valid=false with the reasons in Errors; only undecodable input returns an error.
func (v *Validator) Validate(encoded string, pool AddressSet, user solana.PublicKey) (*Result, error) {
	raw, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	return v.ValidateBytes(raw, pool, user)
}

// ValidateBytes is Validate for already-decoded wire bytes
func (v *Validator) ValidateBytes(raw []byte, pool AddressSet, user solana.PublicKey) (*Result, error) {
	res := &Result{Errors: []string{}, SizeBytes: len(raw)}

	if err := checkSize(len(raw)); err != nil {
		res.addError("transaction size %d exceeds maximum %d bytes", len(raw), MaxTransactionSize)
		v.record(res)
		return res, nil
	}

	tx, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	res.Transaction = tx
	res.Version = tx.Version()
	res.FeePayer = tx.FeePayer()

	if !pool.Contains(res.FeePayer) {
		res.addError("fee payer must be a pool wallet")
	}

	v.verifyUserSignature(tx, user, res)
	v.scanInstructions(tx, pool, res)

	cb, cbErrs := v.inspectComputeBudget(tx)
	res.ComputeBudget = cb
	res.Errors = append(res.Errors, cbErrs...)

	if n, ok := DetectDurableNonce(tx); ok {
		res.DurableNonce = n
	}
	res.ReplayKey = ReplayKey(tx)
	res.MessageHash = MessageHash(tx)

	res.Valid = len(res.Errors) == 0
	v.record(res)
	return res, nil
}

// verifyUserSignature checks the claimed user's Ed25519 signature over the exact message bytes
func (v *Validator) verifyUserSignature(tx Transaction, user solana.PublicKey, res *Result) {
	idx := -1
	for i, k := range tx.AccountKeys() {
		if k.Equals(user) {
			idx = i
			break
		}
	}
	if idx < 0 {
		res.addError("user %s not found in transaction account keys", user)
		return
	}

	sigs := tx.Signatures()
	if idx >= tx.NumRequiredSignatures() || idx >= len(sigs) {
		res.addError("user signature missing: %s is not a required signer", user)
		return
	}
	if sigs[idx] == (solana.Signature{}) {
		res.addError("user signature missing")
		return
	}
	if !sigs[idx].Verify(user, tx.SerializedMessage()) {
		res.addError(MsgSignatureInvalid)
	}
}

// scanInstructions flags every dangerous instruction that touches a pool wallet.
// All violations are collected; the scan never stops early.
func (v *Validator) scanInstructions(tx Transaction, pool AddressSet, res *Result) {
	keys := tx.AccountKeys()
	total := len(keys) + tx.LookupAccountCount()

	for i, ix := range tx.Instructions() {
		if int(ix.ProgramIDIndex) >= len(keys) {
			res.addError("instruction %d: program index %d out of range", i, ix.ProgramIDIndex)
			continue
		}
		for _, a := range ix.Accounts {
			if int(a) >= total {
				res.addError("instruction %d: account index %d out of range", i, a)
			}
		}

		family, r, ok := lookupRule(keys[ix.ProgramIDIndex], ix.Data)
		if !ok {
			continue
		}

		for _, pos := range r.checkedIndexes(len(ix.Accounts)) {
			if pos.index >= len(ix.Accounts) {
				continue
			}
			keyIdx := int(ix.Accounts[pos.index])
			if keyIdx >= total {
				continue
			}
			if keyIdx >= len(keys) {
				// loaded from a lookup table: cannot rule out a pool wallet offline
				res.addError("instruction %d: %s %s %s is loaded from an address lookup table and cannot be verified",
					i, family, r.name, pos.role)
				continue
			}
			if !pool.Contains(keys[keyIdx]) {
				continue
			}

			res.Violations = append(res.Violations, Violation{
				Instruction: i,
				Program:     family,
				Opcode:      r.name,
				Role:        pos.role,
				Account:     keys[keyIdx].String(),
			})
			res.addError("instruction %d: %s %s with fee payer wallet as %s is not allowed",
				i, family, r.name, pos.role)
		}
	}
}

func (v *Validator) record(res *Result) {
	names := make([]string, 0, len(res.Violations))
	for _, vi := range res.Violations {
		names = append(names, vi.Program+"."+vi.Opcode)
	}
	v.cfg.Metrics.RecordValidation(res.Valid, names)

	if len(res.Violations) > 0 {
		v.logger.WithFields(logrus.Fields{
			"message_hash": res.MessageHash,
			"fee_payer":    res.FeePayer.String(),
			"violations":   len(res.Violations),
		}).Warn("drain attempt detected")
	}
}
