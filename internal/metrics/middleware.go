package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
)

// EchoMiddleware records duration and status for every request.
// The route template (c.Path()) is used as the handler label to keep cardinality bounded.
func EchoMiddleware(m *Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// let echo's error handler write the response so the status is final
				c.Error(err)
			}

			handler := c.Path()
			if handler == "" {
				handler = "unmatched"
			}
			m.RecordHTTPRequest(handler, c.Request().Method, c.Response().Status, time.Since(start).Seconds())
			return nil
		}
	}
}
