// Package token issues and parses HS256 credential tokens.
//
// A token is three base64url segments: header, claims and an HMAC-SHA256
// signature over the first two. Parse enforces structure, a required exp
// claim and the signature; single-active-token revocation lives in the
// engine because it needs the session cache.
package token
