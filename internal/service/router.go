package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"

	"forward-proxy-go/internal/client"
	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/rewrite"
)

type decisionKey struct{}

// Router forwards authorized requests over one engine per protocol. Both
// engines share the response rewriter.
type Router struct {
	engines               map[model.Protocol]*httputil.ReverseProxy
	rewriter              *rewrite.Rewriter
	rewriteAcceptEncoding bool
	logger                *slog.Logger
	metrics               *metrics.Metrics
}

// NewRouter creates a Router over the upstream transports. The metrics
// parameter is optional; pass nil to disable forwarding metrics.
func NewRouter(cfg *config.Config, tr *client.Transports, rw *rewrite.Rewriter, logger *slog.Logger, m *metrics.Metrics) (*Router, error) {
	r := &Router{
		engines:               make(map[model.Protocol]*httputil.ReverseProxy, 2),
		rewriter:              rw,
		rewriteAcceptEncoding: cfg.Proxy.RewriteAcceptEncoding,
		logger:                logger.With("component", "router"),
		metrics:               m,
	}
	for _, p := range []model.Protocol{model.ProtocolHTTP, model.ProtocolHTTPS} {
		rt, err := tr.For(p)
		if err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		r.engines[p] = r.newEngine(rt)
	}
	return r, nil
}

func (r *Router) newEngine(rt http.RoundTripper) *httputil.ReverseProxy {
	rp := &httputil.ReverseProxy{
		Rewrite:      r.rewrite,
		Transport:    rt,
		ErrorHandler: r.handleError,
		ErrorLog:     slog.NewLogLogger(r.logger.Handler(), slog.LevelError),
	}
	if r.rewriter != nil && r.rewriter.Enabled() {
		rp.ModifyResponse = r.rewriter.Apply
	}
	return rp
}

// Forward streams req to the destination in d and the response back to w.
// Transport failures are answered on w; the returned error only reports a
// decision no engine can serve.
func (r *Router) Forward(w http.ResponseWriter, req *http.Request, d *model.RoutingDecision) error {
	engine, ok := r.engines[d.Protocol]
	if !ok {
		return fmt.Errorf("router: no engine for protocol %q", d.Protocol)
	}
	ctx := context.WithValue(req.Context(), decisionKey{}, d)
	engine.ServeHTTP(w, req.WithContext(ctx))
	return nil
}

func decisionFrom(ctx context.Context) *model.RoutingDecision {
	d, _ := ctx.Value(decisionKey{}).(*model.RoutingDecision)
	return d
}

func (r *Router) rewrite(pr *httputil.ProxyRequest) {
	d := decisionFrom(pr.In.Context())

	pr.SetURL(d.UpstreamBase())
	if d.MethodOverride != "" {
		pr.Out.Method = d.MethodOverride
	}

	h := pr.Out.Header
	h.Set("User-Agent", d.UserAgent)
	if d.Cookie != "" {
		h.Set("Cookie", d.Cookie)
	}
	if r.rewriteAcceptEncoding {
		h.Set("Accept-Encoding", "gzip")
	}
	for _, name := range strippedHeaders {
		h.Del(name)
	}

	r.logger.Debug("forwarding",
		"method", pr.Out.Method,
		"protocol", d.Protocol,
		"host", d.Host(),
		"path", pr.Out.URL.Path,
	)
}

func (r *Router) handleError(w http.ResponseWriter, req *http.Request, err error) {
	var host string
	var proto model.Protocol
	if d := decisionFrom(req.Context()); d != nil {
		host, proto = d.Host(), d.Protocol
	}

	if errors.Is(err, rewrite.ErrAbortResponse) {
		r.logger.Error("response aborted", "err", err, "host", host)
		panic(http.ErrAbortHandler)
	}
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		r.logger.Debug("client went away before upstream replied", "host", host)
		return
	}

	r.logger.Error("proxying failed", "err", err, "host", host, "protocol", proto)
	if r.metrics != nil {
		r.metrics.UpstreamErrors.WithLabelValues(string(proto)).Inc()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte("Proxying failed"))
}
