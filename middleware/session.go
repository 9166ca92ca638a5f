package middleware

import (
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/session"
)

// Sessions loads the browser session named by the cookie, issuing a new
// id when the cookie is absent or unknown. A cache outage yields a fresh
// session so CSRF validation fails closed instead of the request failing.
func Sessions(engine *authgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessions := engine.Sessions()
			s, err := sessions.FromRequest(r)
			if err != nil {
				engine.Logger().Warn("authgate: session load failed", "error", err)
			}
			if s.IsNew() {
				sessions.WriteCookie(w, s)
			}
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
		})
	}
}
