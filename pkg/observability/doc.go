// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, and graceful shutdown management.
//
// # Logging
//
// Logger wraps stdlib slog with a JSON handler and chainable field helpers:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("endpoint_id", id).Info("delivery scheduled")
//
// # Metrics
//
// NewMetrics registers all relay metrics against an injected registry so tests
// can use a private registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	mux.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Shutdown
//
// ShutdownManager drains the HTTP server and runs registered cleanup
// functions concurrently on SIGINT/SIGTERM.
package observability
