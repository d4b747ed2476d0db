// Package middleware provides Echo middleware for logging, metrics and
// inbound header hygiene.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// targetHeader names the requested destination. It is safe to log; the
// access key header never is.
const targetHeader = "Proxy-Target"

// Keys under which the proxy handler records its decision on the echo
// context for the access log.
const (
	KeyProtocol     = "gateway.protocol"
	KeyRejectReason = "gateway.reject_reason"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Rejected requests are logged at warn level with their reason.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("target", req.Header.Get(targetHeader)),
				slog.Int("status", res.Status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("bytes_out", res.Size),
			}
			if p, ok := c.Get(KeyProtocol).(string); ok {
				attrs = append(attrs, slog.String("protocol", p))
			}

			level := slog.LevelInfo
			if reason, ok := c.Get(KeyRejectReason).(string); ok {
				attrs = append(attrs, slog.String("reject_reason", reason))
				level = slog.LevelWarn
			}

			logger.LogAttrs(context.Background(), level, "request", attrs...)

			return err
		}
	}
}
