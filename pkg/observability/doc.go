// Package observability provides structured logging, Prometheus metrics, health checks, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Logger writes JSON through log/slog. Derived loggers share a level so
// SetLevel takes effect everywhere, which is how config reloads change
// verbosity at runtime.
//
//	logger := observability.NewLogger(observability.ParseLevel("info"), os.Stdout)
//	logger.WithField("node_id", id).Info("node moved")
//
// Handlers pick up the request-scoped logger with FromContext.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	objects = observability.InstrumentStore(objects, "s3", metrics)
//
// HTTP metrics are labelled with the mux route template rather than the raw path.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, objectStore, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// A database or object store failure makes the service unhealthy. Redis is
// optional and only degrades it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "portalfs",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
