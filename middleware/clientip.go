package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
)

// ClientIP resolves the caller address and user agent and stores them in
// the request context for every later stage. Forwarding headers are only
// honoured when trustProxy is set; trustedProxyCount is the number of
// proxies we operate, counted from the right of X-Forwarded-For.
func ClientIP(trustProxy bool, trustedProxyCount int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authgate.WithClientIP(r.Context(), RemoteIP(r, trustProxy, trustedProxyCount))
			ctx = authgate.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RemoteIP extracts the client address from r.
func RemoteIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// fromForwardedFor picks the entry just left of our trusted proxies:
// "client, untrusted, proxy2" with two trusted proxies yields "client".
func fromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(ips) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
