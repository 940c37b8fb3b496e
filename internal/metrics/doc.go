// Package metrics exposes Prometheus instrumentation for the stream
// orchestrator and the session view cache.
package metrics
