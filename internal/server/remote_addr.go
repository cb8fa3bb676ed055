// Package server resolves the origin address of an accepted connection.
package server

import (
	"net"
	"net/http"
	"strings"
)

// resolveClientAddr derives the address recorded for every post on a
// connection. Priority: first X-Forwarded-For entry, then X-Real-IP, then
// the transport peer address. The value is resolved once at accept time
// and never taken from a payload.
func resolveClientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
