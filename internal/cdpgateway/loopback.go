package cdpgateway

import (
	"net"
	"net/http"
	"strings"
)

// isLoopbackRequest gates every WebSocket upgrade behind a bind-mode guard
// (spec §1 non-goal: no client auth, the gateway binds loopback instead).
// Kept as its own predicate, mirroring the teacher's checkAuth split, so a
// future non-loopback listen mode has one place to add real auth.
func isLoopbackRequest(r *http.Request) bool {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return isLoopbackIP(host)
}

func isLoopbackIP(ip string) bool {
	if ip == "127.0.0.1" || strings.HasPrefix(ip, "127.") {
		return true
	}
	if ip == "::1" || strings.HasPrefix(ip, "::ffff:127.") {
		return true
	}
	return false
}
