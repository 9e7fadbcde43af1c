// Package otel binds controller metrics to an OpenTelemetry meter.
//
// [NewExporter] registers an Int64ObservableCounter per controller counter
// and an Int64ObservableGauge per cumulative latency bucket. One callback
// reads [goBioKey.Controller.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate controller state.
package otel
