// Package model defines shared types for the proxy.
package model

import (
	"fmt"
	"net/http"
	"net/url"
)

// Protocol is the scheme used to reach the upstream destination.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// DefaultProtocol is used when neither the allow-list nor the request names one.
const DefaultProtocol = ProtocolHTTPS

// ParseProtocol accepts only "http" and "https", case-sensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolHTTP, ProtocolHTTPS:
		return Protocol(s), nil
	}
	return "", fmt.Errorf("unsupported protocol %q", s)
}

// RoutingDecision is the outcome of a successful authorization. It lives for
// a single request.
type RoutingDecision struct {
	// Target is the parsed proxy-target value; Target.Host is the allow-list key.
	Target *url.URL
	// Protocol selects the plain or TLS forwarding path.
	Protocol Protocol
	// MethodOverride replaces the inbound method when non-empty.
	MethodOverride string
	// UserAgent and Cookie are the outbound values requested by the client.
	UserAgent string
	Cookie    string
}

// Host returns the destination host, including the port if one was given.
func (d *RoutingDecision) Host() string {
	return d.Target.Host
}

// UpstreamBase returns protocol://host plus the target's own path, without
// the inbound request path.
func (d *RoutingDecision) UpstreamBase() *url.URL {
	return &url.URL{
		Scheme:   string(d.Protocol),
		Host:     d.Target.Host,
		Path:     d.Target.Path,
		RawPath:  d.Target.RawPath,
		RawQuery: d.Target.RawQuery,
	}
}

// ResponseHead is a snapshot of the upstream response taken before any
// client-visible mutation.
type ResponseHead struct {
	Header        http.Header
	StatusCode    int
	StatusMessage string
}
