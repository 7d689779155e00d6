package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	e.HTTPErrorHandler = NotFoundJSON()

	if cfg.Metrics != nil {
		e.Use(metrics.EchoMiddleware(cfg.Metrics))
	}
	e.Use(SetNoCacheHeaders)

	if cfg.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.MetricsHandler))
	}

	v1 := e.Group("/v1", SetJSONContentType)
	v1.GET("/health", h.Health)

	api := v1.Group("")
	if cfg.APIKey != "" {
		api.Use(keyAuth("header:X-API-Key", cfg.APIKey))
	}

	limited := api.Group("")
	limited.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RateLimitRPS),
		Burst:     cfg.RateLimitBurst,
		ExpiresIn: 3 * time.Minute,
	})))
	limited.POST("/quotes", h.CreateQuote)
	limited.POST("/transactions/submit", h.SubmitTransaction)

	api.GET("/quotes/:id", h.GetQuote)
	api.DELETE("/quotes/:id", h.CancelQuote)
	api.POST("/transactions/validate", h.ValidateTransaction)
	api.GET("/transactions/:signature", h.GetTransaction)

	admin := v1.Group("/admin", keyAuth("header:X-Admin-Key", cfg.AdminAPIKey))
	admin.GET("/fee-payers", h.ListFeePayers)
	admin.POST("/fee-payers/:address/status", h.SetFeePayerStatus)
	admin.POST("/circuit/close", h.CloseCircuit)
	admin.POST("/circuit/open", h.OpenCircuit)

	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: http.StatusNotFound})
	})
}

// keyAuth checks a static key in constant time. An empty expected key rejects every request.
func keyAuth(lookup, expected string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: lookup,
		Validator: func(key string, c echo.Context) (bool, error) {
			if expected == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1, nil
		},
	})
}
