package middleware

import (
	"net/http"

	"github.com/MrEthical07/authgate"
)

// KeyFunc derives the rate limit actor key of a request.
type KeyFunc func(r *http.Request) string

// BySubjectOrSource keys authenticated requests by subject id and the rest
// by source address.
func BySubjectOrSource(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return "user:" + claims.SubjectID
	}
	return "guest:" + authgate.ClientIPFromContext(r.Context())
}

// RateLimit spends one attempt of action per request. A nil key uses
// BySubjectOrSource.
func RateLimit(engine *authgate.Engine, action string, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = BySubjectOrSource
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.ConsumeRate(r.Context(), key(r), action); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
