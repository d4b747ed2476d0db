package rewrite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"forward-proxy-go/internal/metrics"
)

// ErrAbortResponse tells the forwarding engine to drop the connection
// without writing a body.
var ErrAbortResponse = errors.New("rewrite: response aborted")

// Options selects the response behaviors.
type Options struct {
	// AppendHead enables footer injection.
	AppendHead bool
	// OverrideStatus reports 200 to the client whatever the upstream sent.
	OverrideStatus bool
	// Strategy applies when the body carries a Content-Encoding.
	Strategy Strategy
}

// Rewriter is the response hook run once per upstream response.
type Rewriter struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Rewriter. The metrics parameter is optional; pass nil to
// disable rewrite metrics.
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) *Rewriter {
	return &Rewriter{
		opts:    opts,
		logger:  logger.With("component", "rewriter"),
		metrics: m,
	}
}

// Enabled reports whether Apply can change anything.
func (rw *Rewriter) Enabled() bool {
	return rw.opts.AppendHead || rw.opts.OverrideStatus
}

// plan is the stage graph chosen for one response.
type plan struct {
	name     string
	pipeline Pipeline
	// dropEncoding is set when the client receives decoded bytes.
	dropEncoding bool
}

// Apply snapshots resp, optionally normalizes its status and replaces its
// body with the footer-injecting pipeline. The returned error is
// ErrAbortResponse (wrapped) when the response must be dropped.
func (rw *Rewriter) Apply(resp *http.Response) error {
	head := Capture(resp)

	if rw.opts.OverrideStatus {
		resp.StatusCode = http.StatusOK
		resp.Status = "200 OK"
	}
	if !rw.opts.AppendHead {
		return nil
	}
	if !bodyAllowed(head.StatusCode) {
		return nil
	}

	footer, err := Footer(head)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAbortResponse, err)
	}

	resp.Header.Del("Content-Length")
	resp.ContentLength = -1

	p, err := rw.plan(resp.Header.Get("Content-Encoding"), footer)
	if err != nil {
		rw.logger.Error("footer encoder failed", "err", err, "host", requestHost(resp))
		rw.countFailure(p.name)
		return fmt.Errorf("%w: %w", ErrAbortResponse, err)
	}
	if p.dropEncoding {
		resp.Header.Del("Content-Encoding")
	}

	resp.Body = &observedBody{
		ReadCloser: p.pipeline.Wrap(resp.Body),
		onError: func(err error) {
			if errors.Is(err, context.Canceled) {
				rw.logger.Debug("response body rewrite canceled", "plan", p.name, "host", requestHost(resp))
				return
			}
			rw.logger.Error("response body rewrite failed; client body truncated",
				"err", err,
				"plan", p.name,
				"host", requestHost(resp),
			)
			rw.countFailure(p.name)
		},
	}

	rw.logger.Debug("footer injection planned",
		"plan", p.name,
		"stages", p.pipeline.Names(),
		"status", head.StatusCode,
	)
	if rw.metrics != nil {
		rw.metrics.FooterInjections.WithLabelValues(p.name).Inc()
	}
	return nil
}

func (rw *Rewriter) plan(contentEncoding string, footer []byte) (plan, error) {
	c, ok := lookupCodec(contentEncoding)
	if !ok {
		return plan{name: "append-raw", pipeline: Pipeline{Inject(footer)}}, nil
	}

	switch rw.opts.Strategy {
	case StrategyDecode:
		return plan{
			name:         "decode",
			pipeline:     Pipeline{Decode(c), Inject(footer)},
			dropEncoding: true,
		}, nil
	case StrategyTransform:
		p, err := NewBridge(c.name, footer)
		return plan{name: "transform", pipeline: p}, err
	default:
		if !c.concatenable {
			return plan{name: "append-raw", pipeline: Pipeline{Inject(footer)}}, nil
		}
		member, err := c.encodeMember(footer)
		return plan{name: "append-" + c.name, pipeline: Pipeline{Inject(member)}}, err
	}
}

func (rw *Rewriter) countFailure(plan string) {
	if rw.metrics != nil {
		rw.metrics.RewriteFailures.WithLabelValues(plan).Inc()
	}
}

// bodyAllowed mirrors the status codes for which the server refuses a body.
// It is checked against the upstream status, before any override.
func bodyAllowed(code int) bool {
	return !(code >= 100 && code <= 199) && code != http.StatusNoContent && code != http.StatusNotModified
}

func requestHost(resp *http.Response) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.Host
	}
	return ""
}

// observedBody reports the first non-EOF read error.
type observedBody struct {
	io.ReadCloser
	once    sync.Once
	onError func(error)
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		b.once.Do(func() { b.onError(err) })
	}
	return n, err
}
