// Package prometheus renders gateway counters in Prometheus text format.
//
// [Exporter.Handler] is mounted by the caller; nothing is registered in a
// global registry. Counter names are authgate_*_total and the verify
// latency histogram is authgate_verify_latency_seconds.
package prometheus
