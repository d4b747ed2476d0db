package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse describes the running gateway. It carries no secrets.
type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UseWhitelist   bool   `json:"use_whitelist"`
	AllowedHosts   int    `json:"allowed_hosts"`
	AppendHead     bool   `json:"append_head"`
	OverrideStatus bool   `json:"override_status"`
	GzipMethod     string `json:"gzip_method"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        string(h.version),
		UseWhitelist:   h.cfg.Proxy.UseWhitelist,
		AllowedHosts:   h.cfg.Proxy.Hosts.Len(),
		AppendHead:     h.cfg.Response.AppendHead,
		OverrideStatus: h.cfg.Response.OverrideStatus,
		GzipMethod:     h.cfg.Response.Strategy.String(),
	})
}
