package authgate

import (
	"context"

	"github.com/MrEthical07/authgate/internal/reqctx"
)

// WithClientIP attaches the caller's network address to ctx. Login, the
// rate limiter key and every audit event read it from there.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return reqctx.WithClientIP(ctx, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return reqctx.WithUserAgent(ctx, userAgent)
}

// ClientIPFromContext returns the address stored by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	return reqctx.ClientIP(ctx)
}

func clientIPFromContext(ctx context.Context) string {
	return reqctx.ClientIP(ctx)
}
