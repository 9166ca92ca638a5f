// Package csrf protects state-changing requests with a per-session
// synchronizer token of 256 random bits.
package csrf
