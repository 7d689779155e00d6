package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aman-zulfiqar/solana-paymaster/internal/constants"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisPublisher fans events out over Redis Pub/Sub, for deployments without NATS
type RedisPublisher struct {
	client redis.UniversalClient
	logger *logrus.Logger
}

func NewRedisPublisher(client redis.UniversalClient, logger *logrus.Logger) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisPublisher{client: client, logger: logger}, nil
}

// Publish sends the event to the catch-all channel and its per-kind channel
func (p *RedisPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	for _, channel := range []string{constants.PubSubChannelEvents, event.Subject()} {
		pipe.Publish(ctx, channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events from the catch-all channel until ctx is done
func (p *RedisPublisher) Subscribe(ctx context.Context, handler func(*Event)) error {
	pubsub := p.client.Subscribe(ctx, constants.PubSubChannelEvents)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				p.logger.WithError(err).Warn("dropping malformed event")
				continue
			}
			handler(&ev)
		}
	}
}

// Close is a no-op; the shared client is owned by the caller
func (p *RedisPublisher) Close() error { return nil }
