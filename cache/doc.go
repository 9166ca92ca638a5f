// Package cache is the Redis-backed key-value store shared by the gateway
// components: credential tokens, profile lookups and sessions.
package cache
