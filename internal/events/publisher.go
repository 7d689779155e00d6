package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

// Publisher delivers events to subscribers outside the process
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

const (
	StreamName      = "PAYMASTER_EVENTS"
	StreamSubjects  = "paymaster.events.*"
	StreamRetention = 14 * 24 * time.Hour
)

// JetStreamPublisher publishes events to NATS JetStream
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Logger
}

func NewJetStreamPublisher(natsURL string, logger *logrus.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("solana-paymaster"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, logger: logger}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.WithFields(logrus.Fields{"url": natsURL, "stream": StreamName}).Info("NATS publisher initialized")
	return p, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return err
	}

	p.logger.WithField("stream", StreamName).Info("creating JetStream stream")
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Paymaster security and relay events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, event.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"subject":      event.Subject(),
		"message_hash": event.MessageHash,
	}).Debug("published event")
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// NopPublisher drops every event; used when no broker is configured
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }
func (NopPublisher) Close() error                          { return nil }
