// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and a publisher bridge for lifecycle events.
package sinks
