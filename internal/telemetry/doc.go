// Package telemetry wires OpenTelemetry tracing and metrics export for
// contextcore.
//
// The service packages create their tracers and meters through the
// global otel providers; this package installs real providers backed by
// OTLP exporters when telemetry is enabled, and leaves the no-op
// defaults in place when it is not. Telemetry failures never take the
// service down: a provider that cannot be built marks the instance
// degraded and the process keeps running.
package telemetry
