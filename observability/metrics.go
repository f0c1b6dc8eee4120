// Package observability holds the ingestion daemon's metrics registry
// and best-effort external notifiers.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics is the instance-scoped Prometheus registry, constructed once
// and mounted at /metrics — same shape as the teacher's Metrics
// struct, with collectors from prometheus/client_golang in place of
// hand-rolled atomic counters/gauges/histograms.
type Metrics struct {
	logger zerolog.Logger
	reg    *prometheus.Registry

	WebhooksReceived   *prometheus.CounterVec
	WebhooksAdmitted   *prometheus.CounterVec
	WebhooksSkipped    *prometheus.CounterVec
	JobsEnqueued       *prometheus.CounterVec
	JobsCompleted      *prometheus.CounterVec
	JobsFailed         *prometheus.CounterVec
	JobsDeadLettered   *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	FilesDiscovered    prometheus.Counter
	FilesNormalizeFail prometheus.Counter
	PriceSnapshots     prometheus.Counter
	FTPBreakerState    *prometheus.GaugeVec
	SyncLocksHeld      prometheus.Gauge
	ReaperActions      *prometheus.CounterVec
	DivergentLineID    prometheus.Counter
}

// NewMetrics registers every collector against a fresh registry (never
// the global default one, so tests can construct independent
// instances without collector-already-registered panics).
func NewMetrics(logger zerolog.Logger) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		logger: logger.With().Str("component", "metrics").Logger(),
		reg:    reg,

		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_webhooks_received_total",
			Help: "Webhook intake requests received, by event type.",
		}, []string{"event_type"}),

		WebhooksAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_webhooks_admitted_total",
			Help: "Webhook intake requests admitted (enqueued), by event type.",
		}, []string{"event_type"}),

		WebhooksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_webhooks_skipped_total",
			Help: "Webhook intake requests skipped, by reason.",
		}, []string{"reason"}),

		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_jobs_enqueued_total",
			Help: "Jobs enqueued, by queue.",
		}, []string{"queue"}),

		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_jobs_completed_total",
			Help: "Jobs completed successfully, by queue.",
		}, []string{"queue"}),

		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_jobs_failed_total",
			Help: "Job attempt failures, by queue and whether retried.",
		}, []string{"queue", "outcome"}),

		JobsDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_jobs_dead_lettered_total",
			Help: "Jobs moved to the dead-letter bucket, by queue.",
		}, []string{"queue"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestiond_job_duration_seconds",
			Help:    "Job processing duration, by queue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),

		FilesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestiond_files_discovered_total",
			Help: "Pricing files discovered on the FTP host.",
		}),

		FilesNormalizeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestiond_normalize_failures_total",
			Help: "Files that failed JSON normalization.",
		}),

		PriceSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestiond_price_snapshots_total",
			Help: "Price snapshots emitted due to a category price change.",
		}),

		FTPBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingestiond_ftp_breaker_state",
			Help: "FTP circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"host"}),

		SyncLocksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestiond_sync_locks_held",
			Help: "Number of cruise-line sync locks currently held.",
		}),

		ReaperActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestiond_reaper_actions_total",
			Help: "Reaper sweep actions taken, by sweep kind.",
		}, []string{"sweep"}),

		DivergentLineID: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestiond_divergent_line_id_total",
			Help: "Webhook lineId observed to disagree with cruise_line_id (always zero until a mapping table exists).",
		}),
	}

	reg.MustRegister(
		m.WebhooksReceived, m.WebhooksAdmitted, m.WebhooksSkipped,
		m.JobsEnqueued, m.JobsCompleted, m.JobsFailed, m.JobsDeadLettered, m.JobDuration,
		m.FilesDiscovered, m.FilesNormalizeFail, m.PriceSnapshots,
		m.FTPBreakerState, m.SyncLocksHeld, m.ReaperActions, m.DivergentLineID,
	)

	return m
}

// Handler serves /metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// BreakerStateValue maps a circuitBreaker.state() string to the gauge
// value convention used by FTPBreakerState.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
