package observability

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/portalfs/pkg/storage"
)

const namespace = "portalfs"

var sizeBuckets = prometheus.ExponentialBuckets(100, 10, 8)

// Metrics holds the server's Prometheus metrics
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec

	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with registry. A nil
// registry leaves them unregistered, which tests rely on.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	var reg prometheus.Registerer
	if registry != nil {
		reg = registry
	}
	f := promauto.With(reg)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
	}
	dbGauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "db", Name: name, Help: help})
	}

	return &Metrics{
		HTTPRequestsTotal:   counter("http", "requests_total", "HTTP requests served", "method", "route", "status"),
		HTTPRequestDuration: histogram("http", "request_duration_seconds", "HTTP request latency", prometheus.DefBuckets, "method", "route"),
		HTTPRequestSize:     histogram("http", "request_size_bytes", "HTTP request body size", sizeBuckets, "method", "route"),
		HTTPResponseSize:    histogram("http", "response_size_bytes", "HTTP response body size", sizeBuckets, "method", "route"),

		StorageOperationsTotal:   counter("storage", "operations_total", "Object store operations", "operation", "backend", "status"),
		StorageOperationDuration: histogram("storage", "operation_duration_seconds", "Object store operation latency", prometheus.DefBuckets, "operation", "backend"),
		StorageErrorsTotal:       counter("storage", "errors_total", "Failed object store operations", "operation", "backend", "error_type"),

		DBConnectionsActive:       dbGauge("connections_active", "Database connections in use"),
		DBConnectionsIdle:         dbGauge("connections_idle", "Idle database connections"),
		DBConnectionsWaitCount:    dbGauge("connections_wait_count", "Connections waited for since start"),
		DBConnectionsWaitDuration: dbGauge("connections_wait_duration_seconds", "Time spent waiting for a connection since start"),
	}
}

// RecordDBStats copies connection pool statistics into the database gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// CollectDBStats samples db every interval until ctx is done
func (m *Metrics) CollectDBStats(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RecordDBStats(db.Stats())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RecordDBStats(db.Stats())
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so ids in paths do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware records count, latency and body sizes per route
// template. Install it with router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeLabel(r)
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, route).Observe(float64(r.ContentLength))
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus text format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentedStore records operation counts, latency and errors for an object store
type InstrumentedStore struct {
	next    storage.ObjectStore
	backend string
	metrics *Metrics
}

type instrumentedSigner struct {
	*InstrumentedStore
	signer storage.URLSigner
}

func (s instrumentedSigner) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	start := time.Now()
	url, err := s.signer.PresignGet(ctx, key, ttl)
	s.observe("presign", start, err)
	return url, err
}

// InstrumentStore wraps store so every operation is recorded under backend.
// The result implements storage.URLSigner only when store does.
func InstrumentStore(store storage.ObjectStore, backend string, metrics *Metrics) storage.ObjectStore {
	base := &InstrumentedStore{next: store, backend: backend, metrics: metrics}
	if signer, ok := store.(storage.URLSigner); ok {
		return instrumentedSigner{InstrumentedStore: base, signer: signer}
	}
	return base
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		s.metrics.StorageErrorsTotal.WithLabelValues(op, s.backend, storageErrorType(err)).Inc()
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(op, s.backend, status).Inc()
	s.metrics.StorageOperationDuration.WithLabelValues(op, s.backend).Observe(time.Since(start).Seconds())
}

func storageErrorType(err error) string {
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, content io.Reader, contentType string) (storage.ObjectInfo, error) {
	start := time.Now()
	info, err := s.next.Put(ctx, key, content, contentType)
	s.observe("put", start, err)
	return info, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.next.Get(ctx, key)
	s.observe("get", start, err)
	return rc, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *InstrumentedStore) Copy(ctx context.Context, srcKey, dstKey string) (storage.ObjectInfo, error) {
	start := time.Now()
	info, err := s.next.Copy(ctx, srcKey, dstKey)
	s.observe("copy", start, err)
	return info, err
}

func (s *InstrumentedStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Exists(ctx, key)
	s.observe("exists", start, err)
	return ok, err
}

// HealthCheck delegates to the wrapped store when it supports health checks
func (s *InstrumentedStore) HealthCheck(ctx context.Context) error {
	if hc, ok := s.next.(storage.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
