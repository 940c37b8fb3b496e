// Package telemetry wires OpenTelemetry trace export for the daemon.
// Tracing is off by default; when enabled, spans are batched to an OTLP
// gRPC collector.
package telemetry
