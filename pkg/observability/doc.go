// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
//	log := observability.NewLogger(observability.ParseLevel("info"), os.Stdout)
//	observability.FromContext(ctx).WithField("user_id", id).Info("role assigned")
//
// # Metrics
//
// Metrics counts gate decisions by gate, outcome and source, cache hits,
// misses and invalidations by cache type, and resolver latency and
// failures. Its recording helpers accept a nil receiver.
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Tracing
//
// InitTracing installs an OTLP gRPC tracer provider when enabled;
// TracingMiddleware starts a server span per request.
//
// # Health
//
// /healthz answers while the process runs. /readyz answers 503 when the
// database is unreachable and reports Redis outages as degraded.
package observability
