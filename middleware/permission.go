package middleware

import (
	"net/http"

	"github.com/MrEthical07/authgate"
)

// RequirePermission rejects callers whose role lacks perm. It must run
// after Guard.
func RequirePermission(engine *authgate.Engine, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, authgate.ErrUnauthorized)
				return
			}
			if err := engine.Authorize(r.Context(), claims, perm); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middleware so that the first argument runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
