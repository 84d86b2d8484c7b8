package common

import (
	"net"
	"net/http"
)

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are not
// read here; behind a trusted proxy chi's RealIP middleware rewrites
// RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
