package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics contains all business-level metrics for the lobby service.
//
// Business metrics track high-level domain operations:
//   - Job lifecycle (submitted, reserved, completed, expired)
//   - Catalog sync (manifest resolution, blob fetches)
//   - Generation worker throughput
//
// All metrics follow the taxonomy:
// apworlds_lobby_business_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	bm := NewBusinessMetrics("apworlds_lobby")
//	bm.JobsSubmittedTotal.WithLabelValues("generate").Inc()
type BusinessMetrics struct {
	namespace string

	// Jobs subsystem - queue submission/completion metrics
	JobsSubmittedTotal *prometheus.CounterVec // Total jobs submitted, by queue
	JobsDedupedTotal   *prometheus.CounterVec // Jobs that matched an existing in-flight job, by queue
	JobsCompletedTotal *prometheus.CounterVec // Total jobs completed, by queue and outcome
	JobsExpiredTotal   *prometheus.CounterVec // Jobs whose lease expired and were requeued, by queue

	// Resolution subsystem - semver range resolution against the package index
	ResolutionsTotal          *prometheus.CounterVec   // Total manifest resolutions, by outcome
	ResolutionDurationSeconds *prometheus.HistogramVec // Duration of a resolution, by outcome

	// Blob cache subsystem - content-addressed blob cache for resolved packages
	BlobCacheHitsTotal   prometheus.Counter // Blob cache hits
	BlobCacheMissesTotal prometheus.Counter // Blob cache misses requiring a fetch

	// Catalog sync subsystem - periodic sync of the package index from its remote
	CatalogSyncTotal           *prometheus.CounterVec // Total catalog sync attempts, by outcome
	CatalogSyncDurationSeconds prometheus.Histogram   // Duration of a catalog sync
	CatalogDegradedTotal       prometheus.Counter     // Manifests marked degraded due to a blob digest mismatch
}

// NewBusinessMetrics creates a new BusinessMetrics instance with standard configuration.
//
// Parameters:
//   - namespace: The Prometheus namespace (typically "apworlds_lobby")
//
// Returns:
//   - *BusinessMetrics: Initialized business metrics manager
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	return &BusinessMetrics{
		namespace: namespace,

		JobsSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_jobs",
				Name:      "submitted_total",
				Help:      "Total number of jobs submitted to the queue",
			},
			[]string{"queue"}, // queue: validate|generate
		),

		JobsDedupedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_jobs",
				Name:      "deduped_total",
				Help:      "Total number of submissions that matched an existing in-flight job",
			},
			[]string{"queue"},
		),

		JobsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_jobs",
				Name:      "completed_total",
				Help:      "Total number of jobs completed",
			},
			[]string{"queue", "outcome"}, // outcome: success|failure|cancelled
		),

		JobsExpiredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_jobs",
				Name:      "expired_total",
				Help:      "Total number of job leases that expired and were requeued",
			},
			[]string{"queue"},
		),

		ResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_resolution",
				Name:      "total",
				Help:      "Total number of semver range resolutions against the package index",
			},
			[]string{"outcome"}, // outcome: success|no_match|conflict
		),

		ResolutionDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_resolution",
				Name:      "duration_seconds",
				Help:      "Duration of a manifest resolution in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"outcome"},
		),

		BlobCacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_blobcache",
				Name:      "hits_total",
				Help:      "Total number of content-addressed blob cache hits",
			},
		),

		BlobCacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_blobcache",
				Name:      "misses_total",
				Help:      "Total number of content-addressed blob cache misses",
			},
		),

		CatalogSyncTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_catalog",
				Name:      "sync_total",
				Help:      "Total number of package index sync attempts",
			},
			[]string{"outcome"}, // outcome: success|failure
		),

		CatalogSyncDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "business_catalog",
				Name:      "sync_duration_seconds",
				Help:      "Duration of a package index sync in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
			},
		),

		CatalogDegradedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "business_catalog",
				Name:      "degraded_total",
				Help:      "Total number of manifests marked degraded due to a blob digest mismatch",
			},
		),
	}
}

// RecordJobSubmitted records a job submission.
func (m *BusinessMetrics) RecordJobSubmitted(queue string) {
	m.JobsSubmittedTotal.WithLabelValues(queue).Inc()
}

// RecordJobDeduped records a submission that matched an existing in-flight job.
func (m *BusinessMetrics) RecordJobDeduped(queue string) {
	m.JobsDedupedTotal.WithLabelValues(queue).Inc()
}

// RecordJobCompleted records a job reaching a terminal state.
func (m *BusinessMetrics) RecordJobCompleted(queue, outcome string) {
	m.JobsCompletedTotal.WithLabelValues(queue, outcome).Inc()
}

// RecordJobExpired records a lease expiring and the job being requeued.
func (m *BusinessMetrics) RecordJobExpired(queue string) {
	m.JobsExpiredTotal.WithLabelValues(queue).Inc()
}

// RecordResolution records a manifest resolution attempt.
func (m *BusinessMetrics) RecordResolution(outcome string, duration float64) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDurationSeconds.WithLabelValues(outcome).Observe(duration)
}

// RecordBlobCacheHit records a content-addressed blob cache hit.
func (m *BusinessMetrics) RecordBlobCacheHit() {
	m.BlobCacheHitsTotal.Inc()
}

// RecordBlobCacheMiss records a content-addressed blob cache miss.
func (m *BusinessMetrics) RecordBlobCacheMiss() {
	m.BlobCacheMissesTotal.Inc()
}

// RecordCatalogSync records a package index sync attempt.
func (m *BusinessMetrics) RecordCatalogSync(outcome string, duration float64) {
	m.CatalogSyncTotal.WithLabelValues(outcome).Inc()
	m.CatalogSyncDurationSeconds.Observe(duration)
}

// RecordCatalogDegraded records a manifest being marked degraded.
func (m *BusinessMetrics) RecordCatalogDegraded() {
	m.CatalogDegradedTotal.Inc()
}
