package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// validateToken accepts the token from an Authorization bearer header
// or, for websocket and SSE clients that cannot set headers, a token
// query parameter. An empty configured token disables auth.
func validateToken(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return tokenEqual(bearer, token)
	}
	if supplied := r.URL.Query().Get("token"); supplied != "" {
		return tokenEqual(supplied, token)
	}
	return false
}

func tokenEqual(supplied, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}

// isOriginAllowed checks the Origin header against the configured
// allow-list, matching either the full origin or its hostname. With no
// list configured only same-host origins pass.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}

	if len(allowed) == 0 {
		return strings.EqualFold(parsed.Hostname(), hostOnly(r.Host))
	}
	for _, entry := range allowed {
		if strings.EqualFold(origin, entry) || strings.EqualFold(parsed.Hostname(), entry) {
			return true
		}
	}
	return false
}

// hostOnly strips an optional port (and IPv6 brackets) from a Host
// header value.
func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}
