package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the position of a breaker in its Closed -> Open -> HalfOpen cycle
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrOpen is returned without running the operation while the breaker is open
	ErrOpen = errors.New("circuit breaker is open")

	// ErrTooManyProbes is returned when the half-open probe budget is used up.
	// It wraps ErrOpen so callers only need to check one sentinel.
	ErrTooManyProbes = fmt.Errorf("%w: half-open probe limit reached", ErrOpen)

	errPanicked = errors.New("operation panicked")
)

// Config holds the tunables for a Breaker
type Config struct {
	Name                string
	FailureThreshold    int           // consecutive failures in Closed before opening
	ResetTimeout        time.Duration // time spent Open before a probe is allowed
	HalfOpenMaxRequests int           // concurrent probes admitted in HalfOpen

	// IsFailure decides whether an operation error counts toward the threshold.
	// Errors it rejects are treated as a healthy response from the dependency.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	Now    func() time.Time
	Logger *logrus.Logger
}

// DefaultConfig returns the settings used when a field is left zero
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Stats is a point-in-time snapshot for health reporting
type Stats struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	HalfOpenRequests int       `json:"half_open_requests"`
	OpenedAt         time.Time `json:"opened_at,omitempty"`

	TotalRequests   uint64    `json:"total_requests"`
	TotalSuccesses  uint64    `json:"total_successes"`
	TotalFailures   uint64    `json:"total_failures"`
	TotalRejected   uint64    `json:"total_rejected"`
	IgnoredErrors   uint64    `json:"ignored_errors"`
	StateChanges    uint64    `json:"state_changes"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
}

type transition struct {
	from, to State
}

// Breaker isolates callers from a failing dependency.
// All bookkeeping happens under mu; the wrapped operation never runs under it.
type Breaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	generation       uint64
	failures         int
	successes        int
	halfOpenRequests int
	openedAt         time.Time

	totalRequests   uint64
	totalSuccesses  uint64
	totalFailures   uint64
	totalRejected   uint64
	ignoredErrors   uint64
	stateChanges    uint64
	lastStateChange time.Time
}

// New creates a breaker in the Closed state
func New(cfg Config) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// DefaultIsFailure counts every error except caller cancellation
func DefaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Name returns the configured breaker name
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs op unless the breaker is open.
// While open and before ResetTimeout has elapsed it returns ErrOpen without calling op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) (err error) {
	gen, err := b.before()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.after(gen, errPanicked)
			panic(r)
		}
	}()

	err = op(ctx)
	b.after(gen, err)
	return err
}

// before admits or rejects a call and performs the lazy Open -> HalfOpen transition
func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	var changes []transition

	if b.state == Open && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		changes = append(changes, b.setStateLocked(HalfOpen))
	}

	switch b.state {
	case Open:
		b.totalRejected++
		b.mu.Unlock()
		b.notify(changes)
		return 0, ErrOpen
	case HalfOpen:
		if b.halfOpenRequests >= b.cfg.HalfOpenMaxRequests {
			b.totalRejected++
			b.mu.Unlock()
			b.notify(changes)
			return 0, ErrTooManyProbes
		}
		b.halfOpenRequests++
	}

	b.totalRequests++
	gen := b.generation
	b.mu.Unlock()
	b.notify(changes)
	return gen, nil
}

// after records the outcome of an admitted call.
// Outcomes from a previous generation are counted in totals but cannot move the state.
func (b *Breaker) after(gen uint64, opErr error) {
	failed := opErr != nil && b.cfg.IsFailure(opErr)

	b.mu.Lock()
	var changes []transition

	if failed {
		b.totalFailures++
	} else {
		b.totalSuccesses++
		if opErr != nil {
			b.ignoredErrors++
		}
	}

	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	switch b.state {
	case Closed:
		if failed {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				changes = append(changes, b.setStateLocked(Open))
			}
		} else {
			b.failures = 0
			b.successes++
		}
	case HalfOpen:
		b.halfOpenRequests--
		if failed {
			changes = append(changes, b.setStateLocked(Open))
		} else {
			changes = append(changes, b.setStateLocked(Closed))
		}
	}

	b.mu.Unlock()
	b.notify(changes)
}

// setStateLocked must be called with mu held
func (b *Breaker) setStateLocked(to State) transition {
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.successes = 0
	b.halfOpenRequests = 0
	now := b.cfg.Now()
	if to == Open {
		b.openedAt = now
	}
	b.stateChanges++
	b.lastStateChange = now
	return transition{from: from, to: to}
}

func (b *Breaker) notify(changes []transition) {
	for _, c := range changes {
		if c.from == c.to {
			continue
		}
		entry := b.cfg.Logger.WithFields(logrus.Fields{
			"breaker": b.cfg.Name,
			"from":    c.from.String(),
			"to":      c.to.String(),
		})
		if c.to == Open {
			entry.Warn("circuit breaker opened")
		} else {
			entry.Info("circuit breaker state changed")
		}
		if b.cfg.OnStateChange != nil {
			b.cfg.OnStateChange(b.cfg.Name, c.from, c.to)
		}
	}
}

// State returns the stored state. Open -> HalfOpen is only applied on the next Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether a call made now would be rejected outright
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Open && b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout
}

// Reset forces the breaker Closed and clears the live counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	t := b.setStateLocked(Closed)
	b.mu.Unlock()
	b.notify([]transition{t})
}

// ForceOpen trips the breaker immediately; ResetTimeout starts counting now
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	t := b.setStateLocked(Open)
	b.mu.Unlock()
	b.notify([]transition{t})
}

// Stats returns a snapshot of counters and state
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:             b.cfg.Name,
		State:            b.state.String(),
		Failures:         b.failures,
		Successes:        b.successes,
		HalfOpenRequests: b.halfOpenRequests,
		OpenedAt:         b.openedAt,
		TotalRequests:    b.totalRequests,
		TotalSuccesses:   b.totalSuccesses,
		TotalFailures:    b.totalFailures,
		TotalRejected:    b.totalRejected,
		IgnoredErrors:    b.ignoredErrors,
		StateChanges:     b.stateChanges,
		LastStateChange:  b.lastStateChange,
	}
}
