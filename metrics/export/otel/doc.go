// Package otel binds gateway counters to an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per latency bucket. A single callback reads
// [authgate.Engine.MetricsSnapshot] on each collection. The caller owns
// the MeterProvider.
package otel
