// Package reqctx carries per-request caller metadata through a context.
// The root package re-exports the setters; internal packages read them
// directly to avoid an import cycle with the engine.
package reqctx

import "context"

type clientIPKey struct{}
type userAgentKey struct{}

// WithClientIP attaches the caller's network address to ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// ClientIP returns the address stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// UserAgent returns the value stored by WithUserAgent, or "".
func UserAgent(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}
