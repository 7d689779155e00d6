package feepayer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/breaker"
	"github.com/gagliardetto/solana-go"
)

const (
	// WarningBalance is the safety margin every payer keeps above its reservations (0.05 SOL)
	WarningBalance uint64 = 50_000_000

	// MaxReservationsPerPayer caps live reservations on a single payer
	MaxReservationsPerPayer = 200
)

var (
	ErrNoCapacity        = errors.New("no fee payer capacity")
	ErrInvalidQuoteID    = errors.New("quote id is required")
	ErrReservationExists = errors.New("reservation already exists for quote")
	ErrUnknownPayer      = errors.New("unknown fee payer")
	ErrPayerExists       = errors.New("fee payer already in pool")
	ErrInvalidTransition = errors.New("invalid fee payer status transition")

	// ErrCircuitOpen is returned by ReserveBalance while the pool breaker rejects calls
	ErrCircuitOpen = fmt.Errorf("fee payer pool: %w", breaker.ErrOpen)
)

// Status is the key-rotation state of a fee payer
type Status int

const (
	Active Status = iota
	Retiring
	Retired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Retiring:
		return "retiring"
	case Retired:
		return "retired"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStatus accepts the lower-case names produced by String
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return Active, nil
	case "retiring":
		return Retiring, nil
	case "retired":
		return Retired, nil
	}
	return 0, fmt.Errorf("invalid fee payer status %q", s)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Reservation sets aside part of one payer's balance for one in-flight quote
type Reservation struct {
	QuoteID        string           `json:"quote_id"`
	Payer          solana.PublicKey `json:"payer"`
	AmountLamports uint64           `json:"amount_lamports"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PayerInfo is a read-only snapshot of one payer
type PayerInfo struct {
	Address          string    `json:"address"`
	Status           Status    `json:"status"`
	BalanceLamports  uint64    `json:"balance_lamports"`
	ReservedLamports uint64    `json:"reserved_lamports"`
	Available        uint64    `json:"available_lamports"`
	Reservations     int       `json:"reservations"`
	Unhealthy        bool      `json:"unhealthy"`
	UnhealthyUntil   time.Time `json:"unhealthy_until,omitempty"`
	LastRefresh      time.Time `json:"last_refresh,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// HealthSummary buckets non-retired payers by balance
type HealthSummary struct {
	Total              int    `json:"total"`
	Healthy            int    `json:"healthy"`
	Warning            int    `json:"warning"`
	Critical           int    `json:"critical"`
	Unhealthy          int    `json:"unhealthy"`
	Retiring           int    `json:"retiring"`
	Retired            int    `json:"retired"`
	ActiveReservations int    `json:"active_reservations"`
	TotalBalance       uint64 `json:"total_balance_lamports"`
	TotalReserved      uint64 `json:"total_reserved_lamports"`
	CircuitState       string `json:"circuit_state"`
}
