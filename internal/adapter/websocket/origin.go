package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
)

// NewCheckOrigin returns the upgrader's origin check. Requests without an
// Origin header (mobile apps, server-side clients) are accepted, as is the
// dashboard's own origin derived from appURL. In development localhost origins
// on any port are accepted too.
func NewCheckOrigin(appURL string, isDevelopment bool) func(r *http.Request) bool {
	appOrigin := extractOrigin(appURL)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
			return true
		case appOrigin != "" && origin == appOrigin:
			return true
		case isDevelopment && isLocalhostOrigin(origin):
			return true
		}

		slog.WarnContext(r.Context(), "WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
