// Package service implements request authorization and forwarding.
package service

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"forward-proxy-go/internal/allowlist"
	"forward-proxy-go/internal/auth"
	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/model"
)

// Rejection reasons, used as metric labels.
const (
	ReasonMethodOverrideDisabled = "method_override_disabled"
	ReasonInvalidMethod          = "invalid_method"
	ReasonInvalidProtocol        = "invalid_protocol"
	ReasonMissingHeaders         = "missing_headers"
	ReasonInvalidAccessKey       = "invalid_access_key"
	ReasonInvalidTarget          = "invalid_target"
	ReasonHostNotAllowed         = "host_not_allowed"
)

var errEmptyHost = errors.New("empty host")

// RejectError is a request refused before forwarding. Message is sent to the
// client as plain text.
type RejectError struct {
	Status  int
	Reason  string
	Message string
}

func (e *RejectError) Error() string {
	return e.Message
}

func reject(status int, reason, message string) *RejectError {
	return &RejectError{Status: status, Reason: reason, Message: message}
}

// Authorizer validates override headers and credentials and resolves the
// destination. It holds only read-only configuration and is safe for
// concurrent use.
type Authorizer struct {
	verifier              *auth.Verifier
	hosts                 allowlist.List
	useWhitelist          bool
	allowOverrideMethod   bool
	disableOverrideCookie bool
	defaultUserAgent      string
	logger                *slog.Logger
}

// NewAuthorizer creates an Authorizer from the loaded configuration.
func NewAuthorizer(cfg *config.Config, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		verifier:              auth.NewVerifier(cfg.Proxy.AccessKey),
		hosts:                 cfg.Proxy.Hosts,
		useWhitelist:          cfg.Proxy.UseWhitelist,
		allowOverrideMethod:   cfg.Proxy.AllowOverrideMethod,
		disableOverrideCookie: cfg.Proxy.DisableOverrideCookie,
		defaultUserAgent:      cfg.Proxy.DefaultUserAgent,
		logger:                logger.With("component", "authorizer"),
	}
}

// Authorize runs the checks in order and stops at the first failure, which
// is returned as a *RejectError.
func (a *Authorizer) Authorize(h http.Header) (*model.RoutingDecision, error) {
	method := h.Get(HeaderOverrideMethod)
	if method != "" {
		if !a.allowOverrideMethod {
			return nil, reject(http.StatusBadRequest, ReasonMethodOverrideDisabled, "Method override is not permitted")
		}
		if !knownMethods[method] {
			return nil, reject(http.StatusBadRequest, ReasonInvalidMethod, "Invalid target method")
		}
	}

	var overrideProto model.Protocol
	if raw := h.Get(HeaderOverrideProto); raw != "" {
		p, err := model.ParseProtocol(raw)
		if err != nil {
			return nil, reject(http.StatusBadRequest, ReasonInvalidProtocol, "Invalid target protocol")
		}
		overrideProto = p
	}

	key := h.Get(HeaderAccessKey)
	target := h.Get(HeaderTarget)
	if key == "" || target == "" {
		return nil, reject(http.StatusBadRequest, ReasonMissingHeaders, "proxy-access-key and proxy-target headers are both required")
	}

	if !a.verifier.Check(key) {
		return nil, reject(http.StatusForbidden, ReasonInvalidAccessKey, "Invalid access key")
	}

	u, err := parseTarget(target)
	if err != nil {
		a.logger.Debug("invalid target", "target", target, "err", err)
		return nil, reject(http.StatusBadRequest, ReasonInvalidTarget, "Invalid target")
	}

	// An empty list permits every destination.
	entry, listed := a.hosts.Lookup(u.Host)
	if a.useWhitelist && a.hosts.Len() > 0 && !listed {
		return nil, reject(http.StatusBadRequest, ReasonHostNotAllowed, "Host not whitelisted")
	}

	proto := model.DefaultProtocol
	if listed && entry.Protocol != "" {
		proto = entry.Protocol
	}
	if overrideProto != "" {
		proto = overrideProto
	}

	d := &model.RoutingDecision{
		Target:         u,
		Protocol:       proto,
		MethodOverride: method,
		UserAgent:      a.defaultUserAgent,
	}
	if ua := h.Get(HeaderOverrideUserAgent); ua != "" {
		d.UserAgent = ua
	}
	if !a.disableOverrideCookie {
		d.Cookie = h.Get(HeaderOverrideCookie)
	}
	return d, nil
}

// parseTarget reads a proxy-target value as host[:port][/path][?query].
func parseTarget(target string) (*url.URL, error) {
	u, err := url.Parse(string(model.DefaultProtocol) + "://" + target)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" {
		return nil, &url.Error{Op: "parse", URL: target, Err: errEmptyHost}
	}
	return u, nil
}
