// Package middleware adapts the gateway Engine to net/http.
//
// The stages are meant to be chained in this order:
//
//   - [ClientIP] resolves the caller address and user agent.
//   - [SourceGuard] applies the blocklist and per-source velocity limit.
//   - [Sessions] loads the browser session.
//   - [RateLimit] spends one attempt of a named action.
//   - [CSRF] validates the anti-forgery token on state-changing requests.
//   - [Guard] verifies the bearer token and stores its claims.
//   - [RequirePermission] checks the caller's role.
//
// Every rejection is written with [WriteError] as a JSON envelope. The
// package holds no authentication logic of its own.
package middleware
