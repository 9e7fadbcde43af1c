// Package prometheus exposes controller metrics as a Prometheus collector.
//
// [Exporter] implements [prometheus.Collector]. Register it with any
// registry, or mount [Exporter.Handler] which serves a private one. Counter
// names are biokey_*_total and the one histogram is
// biokey_session_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate controller state.
package prometheus
