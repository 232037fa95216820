package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	IngestRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_ingest_records_total",
			Help: "Total number of records accepted by the staging engine, by stream",
		},
		[]string{"stream"},
	)

	IngestBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_ingest_bytes_total",
			Help: "Total number of bytes appended to staging files, by stream",
		},
		[]string{"stream"},
	)

	IngestRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_ingest_rejected_total",
			Help: "Total number of rejected ingest batches, by reason",
		},
		[]string{"reason"},
	)

	// Staging metrics
	StagingBytesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "logship_staging_bytes_in_use",
			Help: "Current bytes consumed by the staging directory",
		},
	)

	StagingOpenFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "logship_staging_open_files",
			Help: "Current number of open staging files",
		},
	)

	// Conversion metrics
	ConversionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logship_conversion_duration_seconds",
			Help:    "Time taken to convert one group of staged files to an artifact",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConversionFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_conversion_files_total",
			Help: "Total number of staged file groups converted, by stream and outcome",
		},
		[]string{"stream", "outcome"},
	)

	ArtifactBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_artifact_bytes_total",
			Help: "Total compressed bytes written to published artifacts, by stream",
		},
		[]string{"stream"},
	)

	// Manifest metrics
	ManifestCASRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_manifest_cas_retries_total",
			Help: "Total number of manifest compare-and-swap retries, by stream",
		},
		[]string{"stream"},
	)

	ManifestCASFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_manifest_cas_failures_total",
			Help: "Total number of manifest publishes deferred to the pending log",
		},
		[]string{"stream"},
	)

	ManifestPublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logship_manifest_publish_duration_seconds",
			Help:    "Time taken to publish a new manifest version",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Retention metrics
	RetentionDeletedArtifactsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_retention_deleted_artifacts_total",
			Help: "Total number of artifacts deleted by retention GC, by stream",
		},
		[]string{"stream"},
	)

	// Cluster metrics
	ClusterNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logship_cluster_nodes_total",
			Help: "Total number of live cluster members by role",
		},
		[]string{"role"},
	)

	FanoutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logship_fanout_duration_seconds",
			Help:    "Time taken for a live query fan-out call to one ingestor",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_id", "outcome"},
	)

	// Object store metrics
	ObjectStoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_objectstore_ops_total",
			Help: "Total number of object store operations by verb and outcome",
		},
		[]string{"op", "outcome"},
	)

	ObjectStoreRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logship_objectstore_retries_total",
			Help: "Total number of retried object store operations",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		IngestRecordsTotal,
		IngestBytesTotal,
		IngestRejectedTotal,
		StagingBytesInUse,
		StagingOpenFiles,
		ConversionDuration,
		ConversionFilesTotal,
		ArtifactBytesTotal,
		ManifestCASRetries,
		ManifestCASFailuresTotal,
		ManifestPublishDuration,
		RetentionDeletedArtifactsTotal,
		ClusterNodesTotal,
		FanoutDuration,
		ObjectStoreOpsTotal,
		ObjectStoreRetries,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
