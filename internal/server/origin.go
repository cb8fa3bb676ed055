// Package server normalizes and validates HTTP origins for WebSocket
// upgrade requests.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originChecker holds the normalized allow-list applied during upgrades.
// Requests without an Origin header are accepted: native clients do not
// send one, and the header only exists to protect browser sessions from
// cross-site scripts.
type originChecker struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

func newOriginChecker(origins []string, log *slog.Logger) *originChecker {
	checker := &originChecker{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			checker.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		checker.allowed[normalized] = struct{}{}
	}

	return checker
}

func (oc *originChecker) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	if oc.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(header)
	if !ok {
		oc.log.Warn("blocked connection, malformed origin", "origin", header)
		return false
	}
	if _, exists := oc.allowed[normalized]; !exists {
		oc.log.Warn("blocked connection, disallowed origin", "origin", header)
		return false
	}
	return true
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
