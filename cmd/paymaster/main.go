package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/aman-zulfiqar/solana-paymaster/internal/audit"
	"github.com/aman-zulfiqar/solana-paymaster/internal/breaker"
	"github.com/aman-zulfiqar/solana-paymaster/internal/config"
	"github.com/aman-zulfiqar/solana-paymaster/internal/events"
	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/aman-zulfiqar/solana-paymaster/internal/metrics"
	"github.com/aman-zulfiqar/solana-paymaster/internal/paymaster"
	"github.com/aman-zulfiqar/solana-paymaster/internal/pricing"
	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/aman-zulfiqar/solana-paymaster/internal/rpc"
	"github.com/aman-zulfiqar/solana-paymaster/internal/server"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/aman-zulfiqar/solana-paymaster/internal/wallet"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	signers, err := wallet.ParsePrivateKeys(cfg.FeePayerPrivateKeys)
	if err != nil {
		logger.WithError(err).Fatal("failed to parse fee payer keys")
	}

	rpcClient := rpc.NewClient(rpc.ClientConfig{
		BaseURL:      cfg.RPCUrl,
		Timeout:      cfg.HTTPTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	})

	rclient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   0,
	})
	if err := rclient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer rclient.Close()

	quotes, err := quote.NewStore(rclient)
	if err != nil {
		logger.WithError(err).Fatal("failed to create quote store")
	}

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewJetStreamPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to NATS")
		}
	} else {
		publisher, err = events.NewRedisPublisher(rclient, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to create event publisher")
		}
	}
	defer publisher.Close()

	var recorder audit.Recorder = audit.NopRecorder{}
	if cfg.ClickHouseAddr != "" {
		ch, err := audit.NewClickHouseStore(audit.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Logger:   logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to ClickHouse")
		}
		if err := ch.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("failed to create audit schema")
		}
		recorder = ch
	}
	defer recorder.Close()

	bcfg := breaker.DefaultConfig("fee_payer_pool")
	bcfg.FailureThreshold = cfg.BreakerFailureThreshold
	bcfg.ResetTimeout = cfg.BreakerResetTimeout
	bcfg.HalfOpenMaxRequests = cfg.BreakerHalfOpenMax
	bcfg.OnStateChange = func(name string, from, to breaker.State) {
		_ = publisher.Publish(context.Background(), &events.Event{
			Kind:   events.KindCircuitTransition,
			Detail: fmt.Sprintf("%s: %s -> %s", name, from, to),
		})
	}

	pool, err := feepayer.NewPool(feepayer.PoolConfig{
		MinHealthyBalance:         cfg.MinHealthyBalance,
		UnhealthyFailureThreshold: cfg.UnhealthyFailureThreshold,
		UnhealthyCooldown:         cfg.UnhealthyCooldown,
		Breaker:                   bcfg,
		Fetcher:                   rpcClient,
		Metrics:                   m,
		Logger:                    logger,
	}, signers)
	if err != nil {
		logger.WithError(err).Fatal("failed to create fee payer pool")
	}

	pricer := pricing.NewPricer(pricing.Config{
		BaseFeeLamports: cfg.BaseFeeLamports,
		MarkupBps:       cfg.FeeMarkupBps,
		AcceptedMints:   cfg.AcceptedFeeTokens,
		SlippageBps:     50,
		Logger:          logger,
	}, pricing.NewJupiterClient(cfg.JupiterBaseURL, cfg.JupiterAPIKey))

	svc, err := paymaster.New(paymaster.Config{
		QuoteTTL:           cfg.QuoteTTL,
		SweepInterval:      cfg.SweepInterval,
		RefreshInterval:    cfg.BalanceRefreshInterval,
		SimulateBeforeSend: cfg.SimulateBeforeSend,
		Metrics:            m,
		Logger:             logger,
	}, paymaster.Deps{
		Pool: pool,
		Validator: txvalidator.New(txvalidator.Config{
			MaxComputeUnitPrice: cfg.MaxComputeUnitPrice,
			Metrics:             m,
			Logger:              logger,
		}),
		Quotes: quotes,
		Pricer: pricer,
		Sender: rpcClient,
		Chain:  rpcClient,
		Audit:  recorder,
		Events: publisher,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create paymaster service")
	}

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: &server.Handlers{
			Service: svc,
			DevMode: cfg.DevMode,
			Logger:  logger,
		},
		Config: server.ServerConfig{
			Addr:           cfg.APIAddr,
			DevMode:        cfg.DevMode,
			APIKey:         cfg.APIKey,
			AdminAPIKey:    cfg.AdminAPIKey,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			Metrics:        m,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	go func() {
		if err := svc.Run(ctx); err != nil {
			logger.WithError(err).Error("background loops stopped")
		}
	}()

	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithFields(logrus.Fields{
		"addr":       cfg.APIAddr,
		"fee_payers": len(signers),
	}).Info("paymaster starting")
	if err := srv.Start(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		logger.WithError(err).Fatal("api server failed")
	}

	if err := srv.WaitClosed(context.Background()); err != nil {
		fmt.Println(err)
	}
}
