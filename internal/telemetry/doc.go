// Package telemetry wires OpenTelemetry tracing and Prometheus metrics.
//
// Tracing is off unless an OTLP endpoint is configured: the global no-op
// tracer provider stays installed and the span helpers cost almost nothing.
// Metrics live in a private registry served by the daemon at /metrics.
package telemetry
