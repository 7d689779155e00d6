package server

import (
	"errors"
	"net/http"

	"github.com/aman-zulfiqar/solana-paymaster/internal/feepayer"
	"github.com/aman-zulfiqar/solana-paymaster/internal/paymaster"
	"github.com/aman-zulfiqar/solana-paymaster/internal/pricing"
	"github.com/aman-zulfiqar/solana-paymaster/internal/quote"
	"github.com/aman-zulfiqar/solana-paymaster/internal/txvalidator"
	"github.com/labstack/echo/v4"
)

// NotFoundJSON returns a custom HTTP error handler that returns JSON responses
// This ensures all errors (including 404s) have consistent JSON format
func NotFoundJSON() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, ErrorResponse{
				Error: http.StatusText(he.Code),
				Code:  he.Code,
			})
			return
		}

		_ = c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  http.StatusInternalServerError,
		})
	}
}

// statusFor maps service errors onto an HTTP status and public message
func statusFor(err error) (int, string) {
	var verr *paymaster.ValidationError
	var jupErr *pricing.HTTPError

	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, "transaction rejected"
	case errors.Is(err, paymaster.ErrInvalidRequest),
		errors.Is(err, txvalidator.ErrMalformedTransaction),
		errors.Is(err, txvalidator.ErrTransactionTooLarge),
		errors.Is(err, quote.ErrInvalidID):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, pricing.ErrUnsupportedMint):
		return http.StatusBadRequest, "fee token not accepted"
	case errors.Is(err, feepayer.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "fee payer pool unavailable"
	case errors.Is(err, feepayer.ErrNoCapacity):
		return http.StatusServiceUnavailable, "no fee payer capacity"
	case errors.Is(err, quote.ErrReplay):
		return http.StatusConflict, "transaction already submitted"
	case errors.Is(err, paymaster.ErrQuoteUsed):
		return http.StatusConflict, "quote already used"
	case errors.Is(err, feepayer.ErrInvalidTransition):
		return http.StatusConflict, "invalid status transition"
	case errors.Is(err, paymaster.ErrQuoteNotFound),
		errors.Is(err, paymaster.ErrQuoteExpired):
		return http.StatusNotFound, "quote not found or expired"
	case errors.Is(err, feepayer.ErrUnknownPayer):
		return http.StatusNotFound, "fee payer not found"
	case errors.Is(err, paymaster.ErrRelayFailed), errors.As(err, &jupErr):
		return http.StatusBadGateway, "upstream failure"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
