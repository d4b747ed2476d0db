package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/metrics"
)

// StatusAborted labels requests whose response was dropped mid-stream.
const StatusAborted = "aborted"

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. A proxied response that is cut off is recorded
// under StatusAborted and the abort is passed on to the server.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			method := metrics.NormalizeMethod(c.Request().Method)
			observe := func(status string) {
				m.RequestsTotal.WithLabelValues(method, status).Inc()
				m.RequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
			}

			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						observe(StatusAborted)
					}
					panic(r)
				}
			}()

			err = next(c)

			// A returned *echo.HTTPError is written later by the central
			// error handler, so the response status is not final yet.
			statusCode := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				statusCode = he.Code
			}
			observe(strconv.Itoa(statusCode))
			return err
		}
	}
}
