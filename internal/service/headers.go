package service

import (
	"maps"
	"slices"
)

// Request headers consumed by the gateway.
const (
	HeaderAccessKey         = "Proxy-Access-Key"
	HeaderTarget            = "Proxy-Target"
	HeaderOverrideMethod    = "Proxy-Target-Override-Method"
	HeaderOverrideProto     = "Proxy-Target-Override-Proto"
	HeaderOverrideUserAgent = "Proxy-Override-User-Agent"
	HeaderOverrideCookie    = "Proxy-Override-Cookie"

	// HeaderUpstreamID identifies the calling platform and must not reach
	// the destination.
	HeaderUpstreamID = "Roblox-Id"
)

// strippedHeaders are removed from every outbound request.
var strippedHeaders = []string{
	HeaderAccessKey,
	HeaderTarget,
	HeaderUpstreamID,
}

// knownMethods is the method set accepted by proxy-target-override-method.
// Matching is case-sensitive.
var knownMethods = map[string]bool{
	"ACL": true, "BIND": true, "CHECKOUT": true, "CONNECT": true, "COPY": true,
	"DELETE": true, "GET": true, "HEAD": true, "LINK": true, "LOCK": true,
	"M-SEARCH": true, "MERGE": true, "MKACTIVITY": true, "MKCALENDAR": true,
	"MKCOL": true, "MOVE": true, "NOTIFY": true, "OPTIONS": true, "PATCH": true,
	"POST": true, "PROPFIND": true, "PROPPATCH": true, "PURGE": true, "PUT": true,
	"QUERY": true, "REBIND": true, "REPORT": true, "SEARCH": true, "SOURCE": true,
	"SUBSCRIBE": true, "TRACE": true, "UNBIND": true, "UNLINK": true,
	"UNLOCK": true, "UNSUBSCRIBE": true,
}

// KnownMethods returns the accepted override methods in sorted order.
func KnownMethods() []string {
	return slices.Sorted(maps.Keys(knownMethods))
}
