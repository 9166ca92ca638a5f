// Package ipguard blocks abusive network sources.
//
// A source is denied when it has an active blocklist entry, or when its
// request log holds more than the configured number of requests within the
// trailing window. Entries either expire at a fixed time or are permanent.
// Expired entries stop blocking immediately; Sweep removes them and prunes
// old request log entries in the background.
//
// Keys:
//   - {prefix}ipg:block:{source}  JSON entry
//   - {prefix}ipg:blocklist       sorted set of sources by expiry (0 = permanent)
//   - {prefix}ipg:req:{source}    sorted set of request timestamps
//   - {prefix}ipg:fail:{source}   failed-login counter
package ipguard
