package events

import "time"

type Kind string

const (
	KindDrainAttempt      Kind = "drain_attempt"
	KindSignatureFailure  Kind = "signature_failure"
	KindReplayRejected    Kind = "replay_rejected"
	KindRelaySubmitted    Kind = "relay_submitted"
	KindRelayFailed       Kind = "relay_failed"
	KindCircuitTransition Kind = "circuit_transition"
)

// Event is published for security findings and relay outcomes
type Event struct {
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	QuoteID     string    `json:"quote_id,omitempty"`
	FeePayer    string    `json:"fee_payer,omitempty"`
	User        string    `json:"user,omitempty"`
	MessageHash string    `json:"message_hash,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Subject is the NATS subject / Redis channel suffix for the event
func (e *Event) Subject() string {
	return "paymaster.events." + string(e.Kind)
}
