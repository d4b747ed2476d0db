package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"forward-proxy-go/internal/metrics"
)

// ReasonRateLimited labels requests refused by RateLimiter.
const ReasonRateLimited = "rate_limited"

// RateLimiter returns a per-client-IP limiter answering excess requests with
// a plain-text 429. The metrics parameter is optional.
func RateLimiter(rps float64, m *metrics.Metrics) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStore(rate.Limit(rps)),
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Set(KeyRejectReason, ReasonRateLimited)
			if m != nil {
				m.Rejections.WithLabelValues(ReasonRateLimited).Inc()
			}
			return c.String(http.StatusTooManyRequests, "Too many requests")
		},
	})
}
