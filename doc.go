// Package authgate is an authentication and access-control gateway.
//
// An [Engine] built by [Builder] issues and verifies HS256 bearer tokens,
// authenticates accounts against a caller-supplied [UserRepository],
// enforces per-action attempt quotas, blocks abusive source addresses,
// guards state-changing browser requests against forgery and records every
// decision in an ordered audit log.
//
// # Request path
//
// A request passes, in order: [Engine.CheckSource] (blocklist and request
// velocity), [Engine.ConsumeRate] for the action, [Engine.ValidateCSRF] for
// state-changing requests, [Engine.Verify] for the bearer token and
// [Engine.Authorize] for the route permission. The middleware package wires
// these as net/http handlers.
//
// # Tokens
//
// Each subject has at most one live token, recorded in Redis under
// token:{subject_id}. Verify checks the signature and expiry and then
// requires the presented token to equal the recorded one, so Logout, a
// second Issue or a password change revoke a token that would otherwise
// still verify. Verify denies whenever the token record cannot be read.
//
// # Failure policy
//
// The source blocker and rate limiter let requests through when Redis is
// unreachable unless configured to fail closed. Audit sink failures never
// reach the caller; the event goes to a fallback sink instead.
package authgate
