package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// RPC settings
	RPCUrl       string
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// Redis settings
	RedisAddr string

	// ClickHouse settings; empty addr disables the audit log
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// NATS settings; empty url falls back to Redis Pub/Sub for events
	NATSURL string

	// API settings
	APIAddr     string
	APIKey      string
	AdminAPIKey string
	DevMode     bool
	LogLevel    string

	RateLimitRPS   float64
	RateLimitBurst int

	// Fee payer pool
	FeePayerPrivateKeys       string
	MinHealthyBalance         uint64
	BalanceRefreshInterval    time.Duration
	UnhealthyCooldown         time.Duration
	UnhealthyFailureThreshold int

	// Circuit breaker around the balance oracle
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerHalfOpenMax      int

	// Quoting
	QuoteTTL            time.Duration
	SweepInterval       time.Duration
	BaseFeeLamports     uint64
	FeeMarkupBps        uint64
	AcceptedFeeTokens   []string
	MaxComputeUnitPrice uint64
	SimulateBeforeSend  bool

	// Jupiter
	JupiterBaseURL string
	JupiterAPIKey  string
}

func Load() *Config {
	return &Config{
		// RPC
		RPCUrl:       getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		HTTPTimeout:  getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:   getIntEnv("MAX_RETRIES", 3),
		RetryBackoff: getDurationEnv("RETRY_BACKOFF", 500*time.Millisecond),

		// Redis
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		// ClickHouse
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "paymaster"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// NATS
		NATSURL: getEnv("NATS_URL", ""),

		// API
		APIAddr:        getEnv("API_ADDR", ":8080"),
		APIKey:         getEnv("API_KEY", ""),
		AdminAPIKey:    getEnv("ADMIN_API_KEY", ""),
		DevMode:        getBoolEnv("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 20),

		// Pool
		FeePayerPrivateKeys:       getEnv("FEE_PAYER_PRIVATE_KEYS", ""),
		MinHealthyBalance:         getUint64Env("MIN_HEALTHY_BALANCE_LAMPORTS", 100_000_000),
		BalanceRefreshInterval:    getDurationEnv("BALANCE_REFRESH_INTERVAL", 30*time.Second),
		UnhealthyCooldown:         getDurationEnv("UNHEALTHY_COOLDOWN", 5*time.Minute),
		UnhealthyFailureThreshold: getIntEnv("UNHEALTHY_FAILURE_THRESHOLD", 3),

		// Breaker
		BreakerFailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:     getDurationEnv("BREAKER_RESET_TIMEOUT", 30*time.Second),
		BreakerHalfOpenMax:      getIntEnv("BREAKER_HALF_OPEN_MAX", 1),

		// Quoting
		QuoteTTL:            getDurationEnv("QUOTE_TTL", 2*time.Minute),
		SweepInterval:       getDurationEnv("SWEEP_INTERVAL", 15*time.Second),
		BaseFeeLamports:     getUint64Env("BASE_FEE_LAMPORTS", 5000),
		FeeMarkupBps:        getUint64Env("FEE_MARKUP_BPS", 0),
		AcceptedFeeTokens:   getListEnv("ACCEPTED_FEE_TOKENS"),
		MaxComputeUnitPrice: getUint64Env("MAX_COMPUTE_UNIT_PRICE", 1_000_000),
		SimulateBeforeSend:  getBoolEnv("SIMULATE_BEFORE_SEND", true),

		// Jupiter
		JupiterBaseURL: getEnv("JUPITER_BASE_URL", "https://api.jup.ag/swap/v1"),
		JupiterAPIKey:  getEnv("JUPITER_API_KEY", ""),
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.RPCUrl == "" {
		errs = append(errs, errors.New("SOLANA_RPC_URL is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if strings.TrimSpace(c.FeePayerPrivateKeys) == "" {
		errs = append(errs, errors.New("FEE_PAYER_PRIVATE_KEYS is required"))
	}
	if c.AdminAPIKey == "" {
		errs = append(errs, errors.New("ADMIN_API_KEY is required"))
	}
	if c.QuoteTTL <= 0 {
		errs = append(errs, fmt.Errorf("QUOTE_TTL must be positive, got %s", c.QuoteTTL))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	}
	if c.BalanceRefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("BALANCE_REFRESH_INTERVAL must be positive, got %s", c.BalanceRefreshInterval))
	}
	if c.BreakerFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.BreakerFailureThreshold))
	}
	if c.BreakerResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BREAKER_RESET_TIMEOUT must be positive, got %s", c.BreakerResetTimeout))
	}
	if c.BreakerHalfOpenMax < 1 {
		errs = append(errs, fmt.Errorf("BREAKER_HALF_OPEN_MAX must be at least 1, got %d", c.BreakerHalfOpenMax))
	}
	if c.UnhealthyFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("UNHEALTHY_FAILURE_THRESHOLD must be at least 1, got %d", c.UnhealthyFailureThreshold))
	}
	if c.FeeMarkupBps > 10_000 {
		errs = append(errs, fmt.Errorf("FEE_MARKUP_BPS must be at most 10000, got %d", c.FeeMarkupBps))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be positive, got %v", c.RateLimitRPS))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getUint64Env(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseUint(strings.ReplaceAll(val, "_", ""), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
