package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/constants"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var idRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Store keeps quotes and replay claims in Redis
type Store struct {
	client redis.Cmdable
}

func NewStore(client redis.Cmdable) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &Store{client: client}, nil
}

// NewID returns a fresh quote identifier
func NewID() string {
	return uuid.NewString()
}

func ValidateID(id string) error {
	if !idRe.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// Save writes q with a TTL matching its expiry
func (s *Store) Save(ctx context.Context, q *Quote) error {
	if err := ValidateID(q.ID); err != nil {
		return err
	}
	ttl := time.Until(q.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save quote %s: already expired", q.ID)
	}

	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	if err := s.client.Set(ctx, quoteKey(q.ID), b, ttl).Err(); err != nil {
		return fmt.Errorf("save quote: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Quote, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	val, err := s.client.Get(ctx, quoteKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}

	var q Quote
	if err := json.Unmarshal([]byte(val), &q); err != nil {
		return nil, fmt.Errorf("unmarshal quote: %w", err)
	}
	return &q, nil
}

// GetBySignature resolves a relayed transaction signature back to its quote
func (s *Store) GetBySignature(ctx context.Context, signature string) (*Quote, error) {
	id, err := s.client.Get(ctx, constants.RedisKeySignaturePrefix+signature).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quote by signature: %w", err)
	}
	return s.Get(ctx, id)
}

// MarkSubmitted records the relay outcome and keeps the quote for a day
func (s *Store) MarkSubmitted(ctx context.Context, q *Quote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, quoteKey(q.ID), b, constants.SubmittedQuoteRetention)
	if q.Signature != "" {
		pipe.Set(ctx, constants.RedisKeySignaturePrefix+q.Signature, q.ID, constants.SubmittedQuoteRetention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark quote submitted: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := s.client.Del(ctx, quoteKey(id)).Err(); err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return nil
}

// ClaimReplay atomically records key for quoteID. A second claim on the same key
// returns ErrReplay until ttl elapses or the claim is released.
func (s *Store) ClaimReplay(ctx context.Context, key, quoteID string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, constants.RedisKeyReplayPrefix+key, quoteID, ttl).Result()
	if err != nil {
		return fmt.Errorf("claim replay key: %w", err)
	}
	if !ok {
		return ErrReplay
	}
	return nil
}

// ReleaseReplay drops a claim, used when the network definitely rejected the transaction
func (s *Store) ReleaseReplay(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, constants.RedisKeyReplayPrefix+key).Err(); err != nil {
		return fmt.Errorf("release replay key: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity for health reporting
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func quoteKey(id string) string {
	return constants.RedisKeyQuotePrefix + id
}
