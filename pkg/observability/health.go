package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/storage"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// errPoolExhausted marks a database that answers but has no idle connection
var errPoolExhausted = errors.New("connection pool exhausted")

// ProbeFunc checks one dependency
type ProbeFunc func(ctx context.Context) error

type probe struct {
	name string
	// critical probes make the service unhealthy; the rest only degrade it
	critical bool
	check    ProbeFunc
}

// HealthChecker runs dependency probes for the readiness endpoint
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	probes []probe
}

// NewHealthChecker probes db and objects as critical and redis as optional.
// Any of them may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, objects storage.HealthChecker, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddProbe("database", true, databaseProbe(db))
	}
	if redisClient != nil {
		h.AddProbe("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if objects != nil {
		h.AddProbe("object_store", true, objects.HealthCheck)
	}
	return h
}

// AddProbe registers another dependency
func (h *HealthChecker) AddProbe(name string, critical bool, check ProbeFunc) {
	h.mu.Lock()
	h.probes = append(h.probes, probe{name: name, critical: critical, check: check})
	h.mu.Unlock()
}

func databaseProbe(db *sql.DB) ProbeFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return errPoolExhausted
		}
		return nil
	}
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is one probe's result
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Check runs every probe concurrently. A failed critical probe makes the
// report unhealthy; a failed optional probe or an exhausted pool degrades it.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	report := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dep, severity := runProbe(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			report.Dependencies[p.name] = dep
			report.Status = worse(report.Status, severity)
		}()
	}
	wg.Wait()

	return report
}

func runProbe(ctx context.Context, p probe) (DependencyStatus, string) {
	start := time.Now()
	err := p.check(ctx)
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	switch {
	case err == nil:
		return dep, StatusHealthy
	case errors.Is(err, errPoolExhausted):
		dep.Status, dep.Message = StatusDegraded, err.Error()
		return dep, StatusDegraded
	}

	dep.Status, dep.Message = StatusUnhealthy, err.Error()
	if p.critical {
		return dep, StatusUnhealthy
	}
	return dep, StatusDegraded
}

var severityRank = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func worse(a, b string) string {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Liveness answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now(), Version: h.version})
}

// Readiness answers 503 when a critical dependency is down and 200 otherwise
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := h.Check(ctx)
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, report)
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
