// Package prometheus exports consoleauth engine metrics through
// client_golang.
//
// [Collector] implements prometheus.Collector: register it with any
// registry, or mount [Collector.Handler], which serves it from a private
// one. Counters are named consoleauth_*_total; the single histogram is
// consoleauth_permission_fetch_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
