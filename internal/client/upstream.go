// Package client provides the pooled upstream transports used by the
// forwarding engine.
package client

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/model"
)

// Transports holds one round tripper per forwarding path.
type Transports struct {
	Plain http.RoundTripper
	TLS   http.RoundTripper
}

// NewTransports creates the plain and TLS upstream transports with connection
// pooling and timeouts. The metrics parameter is optional; pass nil to disable
// upstream metrics recording.
func NewTransports(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Transports {
	logger = logger.With("component", "upstream_client")

	plain := newTransport(cfg)

	secure := newTransport(cfg)
	secure.ForceAttemptHTTP2 = true
	secure.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.Upstream.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}
	if cfg.Upstream.InsecureSkipVerify {
		logger.Warn("upstream TLS certificate verification is disabled")
	}

	return &Transports{
		Plain: &instrumented{next: plain, protocol: model.ProtocolHTTP, logger: logger, metrics: m},
		TLS:   &instrumented{next: secure, protocol: model.ProtocolHTTPS, logger: logger, metrics: m},
	}
}

func newTransport(cfg *config.Config) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Bodies must reach the rewrite hook with their upstream encoding.
		DisableCompression:    true,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// For returns the transport serving protocol p.
func (t *Transports) For(p model.Protocol) (http.RoundTripper, error) {
	switch p {
	case model.ProtocolHTTP:
		return t.Plain, nil
	case model.ProtocolHTTPS:
		return t.TLS, nil
	}
	return nil, fmt.Errorf("unsupported protocol %q", p)
}

// instrumented records upstream latency and status per protocol.
type instrumented struct {
	next     http.RoundTripper
	protocol model.Protocol
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func (t *instrumented) RoundTrip(req *http.Request) (*http.Response, error) {
	t.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := t.next.RoundTrip(req) //nolint:bodyclose // body ownership transfers to the caller
	duration := time.Since(start).Seconds()

	if t.metrics != nil {
		method := metrics.NormalizeMethod(req.Method)
		proto := string(t.protocol)
		t.metrics.UpstreamDuration.WithLabelValues(proto, method).Observe(duration)
		if err == nil {
			t.metrics.UpstreamResponses.WithLabelValues(proto, method, strconv.Itoa(resp.StatusCode)).Inc()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	return resp, nil
}
