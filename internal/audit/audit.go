package audit

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Record is one relay attempt
type Record struct {
	Timestamp   time.Time
	QuoteID     string
	User        string
	FeePayer    string
	MessageHash string
	ReplayKey   string
	Signature   string
	Version     string
	FeeLamports uint64
	FeeMint     string
	FeeAmount   uint64
	Outcome     Outcome
	Error       string
}

// Recorder persists relay attempts
type Recorder interface {
	InsertRelay(ctx context.Context, rec *Record) error
	Ping(ctx context.Context) error
	Close() error
}

// NopRecorder discards records when no audit store is configured
type NopRecorder struct{}

func (NopRecorder) InsertRelay(context.Context, *Record) error { return nil }
func (NopRecorder) Ping(context.Context) error                 { return nil }
func (NopRecorder) Close() error                               { return nil }
