// Package session keeps small per-browser state (such as the CSRF token)
// in the cache, keyed by a random id carried in an HttpOnly cookie.
//
// Unknown or malformed ids are never adopted: Load issues a fresh id, so a
// client cannot pick the id of the session it is given.
package session
