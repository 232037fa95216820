/*
Package metrics provides Prometheus metrics collection and exposition for
logship.

Metrics are registered once at package init and exposed over HTTP for
scraping, the same way across the ingest, staging, conversion, manifest,
and cluster components.

# Metrics Catalog

Ingest:

	logship_ingest_records_total{stream}
	logship_ingest_bytes_total{stream}
	logship_ingest_rejected_total{reason}

Staging:

	logship_staging_bytes_in_use
	logship_staging_open_files

Conversion:

	logship_conversion_duration_seconds
	logship_conversion_files_total{stream,outcome}
	logship_artifact_bytes_total{stream}

Manifest:

	logship_manifest_cas_retries_total{stream}
	logship_manifest_cas_failures_total{stream}
	logship_manifest_publish_duration_seconds

Retention:

	logship_retention_deleted_artifacts_total{stream}

Cluster:

	logship_cluster_nodes_total{role}
	logship_fanout_duration_seconds{node_id,outcome}

Object store:

	logship_objectstore_ops_total{op,outcome}
	logship_objectstore_retries_total{op}

# Usage

	timer := metrics.NewTimer()
	err := convertFile(f)
	timer.ObserveDuration(metrics.ConversionDuration)
	metrics.ConversionFilesTotal.WithLabelValues(stream, outcomeOf(err)).Inc()

Metrics are served alongside health endpoints; see Handler, HealthHandler,
ReadyHandler, and LivenessHandler.
*/
package metrics
