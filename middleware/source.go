package middleware

import (
	"net/http"

	"github.com/MrEthical07/authgate"
)

// SourceGuard logs every request against its source address and rejects
// blocklisted or over-limit sources. It must run after ClientIP.
func SourceGuard(engine *authgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.CheckSource(r.Context(), authgate.ClientIPFromContext(r.Context())); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
