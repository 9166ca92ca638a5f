// Package audit records security-relevant events.
//
// Log is the write path: Record is non-blocking and best-effort, events are
// delivered to the sink by one goroutine in acceptance order, and anything
// the sink rejects or the queue cannot hold is written to a fallback sink
// instead of being dropped. Sinks that also implement Reader back the read
// path (Recent, Search).
package audit
