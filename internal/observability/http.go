package observability

import (
	"net"
	"net/http"
	"strings"

	"groupchat-service/internal/telemetry"
)

// DeviceIDFromRequest returns the client supplied device id, if any.
func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}

// RequestIDFromRequest prefers the id assigned by the request id middleware
// and falls back to the inbound header.
func RequestIDFromRequest(r *http.Request) string {
	if id := telemetry.RequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-Id")
}

// IPFromRequest returns the first forwarded address, or the peer address.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
