package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ListFeePayers returns every fee payer along with the pool health summary
func (h *Handlers) ListFeePayers(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	return c.JSON(http.StatusOK, PayersResponse{
		Items:   h.Service.Payers(),
		Summary: h.Service.Health(ctx).Pool,
	})
}

// CloseCircuit force-closes the fee payer pool breaker
func (h *Handlers) CloseCircuit(c echo.Context) error {
	h.Service.CloseCircuit()
	return c.NoContent(http.StatusNoContent)
}

// OpenCircuit trips the fee payer pool breaker so no new quotes are reserved
func (h *Handlers) OpenCircuit(c echo.Context) error {
	h.Service.OpenCircuit()
	return c.NoContent(http.StatusNoContent)
}

// SetFeePayerStatus applies a key-rotation transition
func (h *Handlers) SetFeePayerStatus(c echo.Context) error {
	var req PayerStatusRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if err := h.Service.SetPayerStatus(c.Param("address"), req.Status); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
