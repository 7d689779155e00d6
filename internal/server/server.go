package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 45 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	// a max-size transaction is 1232 bytes, ~1.7KB as base64
	maxBodySize = "16K"
)

// ServerConfig holds configuration for the paymaster API
type ServerConfig struct {
	Addr        string // bind address, e.g. ":8080"
	DevMode     bool   // include error details in responses
	APIKey      string // optional key for quote and transaction routes
	AdminAPIKey string // required for /v1/admin; empty disables the admin group

	RateLimitRPS   float64 // per-client limit on quote and submit
	RateLimitBurst int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Metrics        *metrics.Metrics
	MetricsHandler http.Handler // served at /metrics when set
}

func (c *ServerConfig) applyDefaults() {
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 10
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

type ServerDeps struct {
	Handlers *Handlers
	Config   ServerConfig
}

// Server owns the Echo instance and its shutdown signal
type Server struct {
	e      *echo.Echo
	cfg    ServerConfig
	closed chan struct{}
}

func NewServer(deps ServerDeps) (*Server, error) {
	cfg := deps.Config
	cfg.applyDefaults()

	h := deps.Handlers
	if h.Logger == nil {
		h.Logger = logrus.New()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(requestLogger(h.Logger))

	RegisterRoutes(e, h, cfg)

	return &Server{e: e, cfg: cfg, closed: make(chan struct{})}, nil
}

// Handler exposes the router so tests can serve requests without a listener
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start() error {
	return s.e.Start(s.cfg.Addr)
}

// Shutdown drains in-flight requests, bounded by ShutdownTimeout
func (s *Server) Shutdown(ctx context.Context) error {
	defer close(s.closed)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.e.Shutdown(ctx)
}

// WaitClosed blocks until Shutdown finished or ctx is done
func (s *Server) WaitClosed(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return nil
	}
}

// requestLogger writes one logrus line per request, at Warn for 5xx
func requestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
				"remote_ip":  v.RemoteIP,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			if v.Status >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	})
}

// SetNoCacheHeaders keeps quotes and verdicts out of shared caches
func SetNoCacheHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-store")
		return next(c)
	}
}

func SetJSONContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return next(c)
	}
}
