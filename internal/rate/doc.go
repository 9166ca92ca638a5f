// Package rate implements per-(actor, action) fixed-window counters in
// Redis.
//
// # Window semantics
//
// A counter is a hash {attempts, window_start}. On each attempt, a window
// older than the policy window is reset; a counter at its ceiling denies
// without incrementing; otherwise it increments and allows. The whole
// read-modify-write runs as one Lua script, so concurrent attempts on the
// same key cannot overshoot the ceiling. Window time comes from the
// injected clock, not Redis; key expiry is hygiene only.
//
// Keys: {prefix}rl:{action}:{actor}.
package rate
