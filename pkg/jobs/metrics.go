package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job engine's Prometheus metrics
type Metrics struct {
	JobsSubmittedTotal *prometheus.CounterVec
	JobsFinishedTotal  *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobsInFlight       prometheus.Gauge
	QueueDepth         prometheus.Gauge
}

// NewMetrics creates and registers the job metrics. A nil registry leaves them unregistered.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		JobsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalfs_jobs_submitted_total",
				Help: "Total number of bulk jobs submitted",
			},
			[]string{"operation"},
		),
		JobsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalfs_jobs_finished_total",
				Help: "Total number of bulk jobs that reached a terminal state",
			},
			[]string{"operation", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portalfs_job_duration_seconds",
				Help:    "Bulk job execution time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"operation"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portalfs_jobs_in_flight",
				Help: "Number of bulk jobs being executed",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portalfs_jobs_pending",
				Help: "Number of PENDING bulk jobs seen by the last poll",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.JobsSubmittedTotal,
			m.JobsFinishedTotal,
			m.JobDuration,
			m.JobsInFlight,
			m.QueueDepth,
		)
	}

	return m
}
