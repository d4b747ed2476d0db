package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/middleware"
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/service"
)

// RequestAuthorizer decides whether a request may be forwarded and where to.
type RequestAuthorizer interface {
	Authorize(h http.Header) (*model.RoutingDecision, error)
}

// Forwarder streams an authorized request to its destination.
type Forwarder interface {
	Forward(w http.ResponseWriter, req *http.Request, d *model.RoutingDecision) error
}

// ProxyHandler authorizes every inbound request and forwards it.
type ProxyHandler struct {
	authorizer RequestAuthorizer
	forwarder  Forwarder
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(a *service.Authorizer, r *service.Router, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return newProxyHandler(a, r, logger, m)
}

func newProxyHandler(a RequestAuthorizer, f Forwarder, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		authorizer: a,
		forwarder:  f,
		logger:     logger.With("component", "proxy_handler"),
		metrics:    m,
	}
}

// Handle forwards the request, or answers it with a plain-text rejection.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	d, err := h.authorizer.Authorize(req.Header)
	if err != nil {
		return h.reject(c, err)
	}
	c.Set(middleware.KeyProtocol, string(d.Protocol))

	if err := h.forwarder.Forward(c.Response(), req, d); err != nil {
		h.logger.Error("forward", "err", err, "host", d.Host())
		return plainText(c, http.StatusInternalServerError, "Proxying failed")
	}
	return nil
}

func (h *ProxyHandler) reject(c echo.Context, err error) error {
	var rej *service.RejectError
	if !errors.As(err, &rej) {
		h.logger.Error("authorize", "err", err)
		return plainText(c, http.StatusInternalServerError, "Proxying failed")
	}

	c.Set(middleware.KeyRejectReason, rej.Reason)
	h.logger.Debug("request rejected",
		"reason", rej.Reason,
		"status", rej.Status,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.Rejections.WithLabelValues(rej.Reason).Inc()
	}
	return plainText(c, rej.Status, rej.Message)
}

func plainText(c echo.Context, code int, msg string) error {
	c.Response().Header().Set("X-Content-Type-Options", "nosniff")
	return c.String(code, msg)
}
