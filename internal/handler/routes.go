package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/service"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every path
// is proxied; the health, status and metrics paths are answered locally only
// for GET or HEAD requests that carry no proxy-target header.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	local := map[string]echo.HandlerFunc{
		"/healthz":      health.Healthz,
		"/proxy/status": health.Status,
	}
	if cfg.Metrics.Enabled && m != nil {
		local[cfg.Metrics.Path] = echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	dispatch := func(c echo.Context) error {
		req := c.Request()
		if req.Header.Get(service.HeaderTarget) == "" && (req.Method == http.MethodGet || req.Method == http.MethodHead) {
			if h, ok := local[req.URL.Path]; ok {
				return h(c)
			}
		}
		return proxy.Handle(c)
	}

	e.Any("/*", dispatch)
	e.Match(service.KnownMethods(), "/*", dispatch)
}
