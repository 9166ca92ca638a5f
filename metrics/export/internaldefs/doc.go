// Package internaldefs holds the metric names and bucket labels shared by
// the Prometheus and OpenTelemetry exporters, so both publish identical
// series. It performs no I/O.
package internaldefs
