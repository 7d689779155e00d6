package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/aman-zulfiqar/solana-paymaster/internal/paymaster"
	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Paymaster is the service surface the API exposes; *paymaster.Service satisfies it
type Paymaster interface {
	Quote(ctx context.Context, req paymaster.QuoteRequest) (*quote.Quote, error)
	GetQuote(ctx context.Context, id string) (*quote.Quote, error)
	CancelQuote(ctx context.Context, id string) error
	Validate(ctx context.Context, encoded, user string) (*txvalidator.Result, error)
	Submit(ctx context.Context, req paymaster.SubmitRequest) (*paymaster.SubmitResult, error)
	TransactionStatus(ctx context.Context, signature string) (*paymaster.TransactionStatus, error)
	Health(ctx context.Context) paymaster.Health
	Payers() []feepayer.PayerInfo
	CloseCircuit()
	OpenCircuit()
	SetPayerStatus(address, status string) error
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Service Paymaster
	DevMode bool           // Enable detailed error responses in development
	Logger  *logrus.Logger // Structured logger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// fail maps a service error to its response. Validation failures always carry their error list.
func (h *Handlers) fail(c echo.Context, err error) error {
	code, msg := statusFor(err)

	var verr *paymaster.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(code, ErrorResponse{Error: msg, Code: code, Details: verr.Result.Errors})
	}
	if code >= http.StatusInternalServerError {
		h.Logger.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return h.err(c, code, msg, err.Error())
}

// withTimeout creates a context with timeout, defaulting to 10 seconds if duration <= 0
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Health reports pool and dependency status; 503 when the service cannot sponsor transactions
func (h *Handlers) Health(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	health := h.Service.Health(ctx)
	code := http.StatusOK
	if !health.OK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, health)
}

// CreateQuote prices a transaction and reserves a fee payer for it
func (h *Handlers) CreateQuote(c echo.Context) error {
	var req paymaster.QuoteRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if strings.TrimSpace(req.User) == "" {
		return h.err(c, http.StatusBadRequest, "invalid user", map[string]any{"user": "required"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	q, err := h.Service.Quote(ctx, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, q)
}

// GetQuote returns a quote by id
func (h *Handlers) GetQuote(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	q, err := h.Service.GetQuote(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

// CancelQuote releases a pending quote's fee payer reservation
func (h *Handlers) CancelQuote(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Service.CancelQuote(ctx, c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateTransaction runs the validator without relaying; the verdict is returned with 200 either way
func (h *Handlers) ValidateTransaction(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if req.Transaction == "" || req.User == "" {
		return h.err(c, http.StatusBadRequest, "invalid request", map[string]any{"transaction": "required", "user": "required"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	res, err := h.Service.Validate(ctx, req.Transaction, req.User)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, ValidateResponse{Result: res})
}

// SubmitTransaction co-signs and relays a transaction against its quote
func (h *Handlers) SubmitTransaction(c echo.Context) error {
	var req paymaster.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if req.QuoteID == "" || req.Transaction == "" {
		return h.err(c, http.StatusBadRequest, "invalid request", map[string]any{"quote_id": "required", "transaction": "required"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	out, err := h.Service.Submit(ctx, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, SubmitResponse{
		QuoteID:     out.QuoteID,
		Signature:   out.Signature,
		FeePayer:    out.FeePayer,
		MessageHash: out.MessageHash,
	})
}

// GetTransaction reports a relayed transaction by signature
func (h *Handlers) GetTransaction(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	st, err := h.Service.TransactionStatus(ctx, c.Param("signature"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
