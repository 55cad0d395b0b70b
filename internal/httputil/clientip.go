package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller address used for rate limiting and logs.
// The first X-Forwarded-For hop wins, then X-Real-IP, then RemoteAddr.
// Header values that do not parse as an IP are ignored.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := normalizeIP(first); ip != "" {
			return ip
		}
	}

	if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func normalizeIP(value string) string {
	value = strings.Trim(strings.TrimSpace(value), "[]")
	if value == "" {
		return ""
	}
	if ip := net.ParseIP(value); ip != nil {
		return ip.String()
	}
	return ""
}
