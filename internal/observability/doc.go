// Package observability wires Hive's logging, tracing and metrics.
//
// Logging is log/slog with sensitive keys redacted. Tracing uses the
// OpenTelemetry SDK with an OTLP gRPC exporter. Metrics use the OpenTelemetry
// metric SDK exported to Prometheus (scraped from the serve command) or pushed
// over OTLP gRPC.
package observability
