// Package allowlist parses and matches the set of destination hosts the proxy
// may forward to.
package allowlist

import (
	"fmt"
	"net/url"
	"strings"

	"forward-proxy-go/internal/model"
)

// Format selects how ALLOWED_HOSTS entries are written.
type Format string

const (
	// FormatLegacy entries are "proto:host" pairs; the protocol is forced
	// for that host.
	FormatLegacy Format = "legacy"
	// FormatHost entries are bare hosts with no per-host protocol.
	FormatHost Format = "host"
)

// ParseFormat validates a format name. Empty selects FormatLegacy.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatLegacy:
		return FormatLegacy, nil
	case FormatHost:
		return FormatHost, nil
	}
	return "", fmt.Errorf("unknown allowed hosts format %q (want legacy or host)", s)
}

// Host is a single permitted destination. Protocol is empty when the entry
// does not force one.
type Host struct {
	Host     string
	Protocol model.Protocol
}

// List is an ordered, immutable set of permitted hosts. The zero value
// contains nothing.
type List struct {
	hosts []Host
}

// Parse splits spec on commas and validates every entry. An empty spec yields
// an empty list. Any malformed entry fails the whole parse.
func Parse(spec string, format Format) (List, error) {
	if spec == "" {
		return List{}, nil
	}

	items := strings.Split(spec, ",")
	hosts := make([]Host, 0, len(items))
	for _, item := range items {
		h, err := parseItem(item, format)
		if err != nil {
			return List{}, err
		}
		hosts = append(hosts, h)
	}
	return List{hosts: hosts}, nil
}

func parseItem(item string, format Format) (Host, error) {
	if format == FormatHost {
		if err := validateHost("https", item); err != nil {
			return Host{}, fmt.Errorf("invalid host domain on item %q: %w", item, err)
		}
		return Host{Host: item}, nil
	}

	parts := strings.Split(item, ":")
	if len(parts) != 2 {
		return Host{}, fmt.Errorf("invalid protocol:host pair on item %q", item)
	}
	proto, err := model.ParseProtocol(parts[0])
	if err != nil {
		return Host{}, fmt.Errorf("invalid protocol on item %q: only http and https are allowed", item)
	}
	if err := validateHost(string(proto), parts[1]); err != nil {
		return Host{}, fmt.Errorf("invalid host domain on item %q: %w", item, err)
	}
	return Host{Host: parts[1], Protocol: proto}, nil
}

// validateHost checks that host forms the whole authority of a URL and
// nothing else.
func validateHost(scheme, host string) error {
	if host == "" {
		return fmt.Errorf("empty host")
	}
	u, err := url.Parse(scheme + "://" + host)
	if err != nil {
		return err
	}
	if u.Host != host || u.Hostname() == "" || u.User != nil || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%q is not a bare host", host)
	}
	return nil
}

// Lookup returns the first entry whose host equals host exactly.
func (l List) Lookup(host string) (Host, bool) {
	for _, h := range l.hosts {
		if h.Host == host {
			return h, true
		}
	}
	return Host{}, false
}

// Contains reports whether host is in the list. Comparison is exact and
// case-sensitive.
func (l List) Contains(host string) bool {
	_, ok := l.Lookup(host)
	return ok
}

// Len returns the number of entries.
func (l List) Len() int {
	return len(l.hosts)
}

// Hosts returns a copy of the entries in configuration order.
func (l List) Hosts() []Host {
	return append([]Host(nil), l.hosts...)
}
