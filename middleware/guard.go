package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*authgate.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authgate.Claims)
	return claims, ok
}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, claims *authgate.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard requires a bearer token that the engine verifies, and passes its
// claims to the next handler.
func Guard(engine *authgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authgate.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, engine.RejectMissingToken(r.Context()))
				return
			}

			claims, err := engine.Verify(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
