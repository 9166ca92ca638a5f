// Package internal holds helpers private to authgate: secure random tokens
// and constant-time secret comparison.
//
// # Sub-packages
//
//   - config: environment loader built on viper
//   - rate: Redis fixed-window counters
//   - reqctx: per-request caller metadata
//   - telemetry: OpenTelemetry meter provider setup
package internal
