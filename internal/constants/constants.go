package constants

import "time"

// Redis keys
const (
	RedisKeyQuotePrefix     = "paymaster:quote:"
	RedisKeyReplayPrefix    = "paymaster:replay:"
	RedisKeySignaturePrefix = "paymaster:sig:"
)

// Redis Pub/Sub channels
const (
	PubSubChannelEvents = "paymaster.events.all"
)

// Retention
const (
	// submitted quotes stay readable for status lookups after their pricing TTL
	SubmittedQuoteRetention = 24 * time.Hour
)
