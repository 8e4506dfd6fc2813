// Package metrics provides Prometheus metrics for the Vizor ingestion
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vizor"

var (
	// IngestsTotal tracks ingest operations by upload source.
	IngestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Total ingest operations",
		},
		[]string{"source", "status"}, // source: file/chunked/generated, status: success/error
	)

	// IngestLatency tracks end-to-end ingest latency.
	IngestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_latency_seconds",
			Help:      "End-to-end ingest latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// TransformRecords tracks records seen by the transformer.
	TransformRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_records_total",
			Help:      "Records processed by the canonical transformer",
		},
		[]string{"outcome"}, // transformed/skipped
	)

	// MergeConflictsTotal tracks series merges that hit a value type mismatch.
	MergeConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Series merges appended due to value type mismatch",
		},
	)

	// GovernorExclusionsTotal tracks categories dropped to fit the size budget.
	GovernorExclusionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_exclusions_total",
			Help:      "Categories excluded by the size governor",
		},
	)

	// PayloadBytesWritten tracks persisted payload bytes by storage tier.
	PayloadBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_written_total",
			Help:      "Persisted chart payload bytes by storage tier",
		},
		[]string{"tier"}, // inline/external
	)

	// PayloadWriteSkips tracks writes skipped because the payload was unchanged.
	PayloadWriteSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_write_skips_total",
			Help:      "Payload writes skipped because content was unchanged",
		},
	)

	// CacheHits tracks dataset cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total dataset cache hits",
		},
	)

	// CacheMisses tracks dataset cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total dataset cache misses",
		},
	)

	// CacheSkips tracks payloads that bypassed the cache for size.
	CacheSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_skips_total",
			Help:      "Cache writes skipped for exceeding the entry ceiling",
		},
	)

	// CacheCorruptions tracks cache entries dropped as undecodable.
	CacheCorruptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_corruptions_total",
			Help:      "Cache entries invalidated after failing validation",
		},
	)

	// ObjectStoreOps tracks object store operations.
	ObjectStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objectstore_ops_total",
			Help:      "Total object store operations",
		},
		[]string{"operation", "status"}, // operation: get/put/delete/list, status: success/error
	)

	// ObjectStoreLatency tracks object store operation latency.
	ObjectStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "objectstore_latency_seconds",
			Help:      "Object store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CASRetriesTotal tracks dataset record update retries after lost races.
	CASRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_retries_total",
			Help:      "Dataset record update retries after losing a write race",
		},
	)

	// GCDeletesTotal tracks blob deletions by the deletion worker.
	GCDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_deletes_total",
			Help:      "Blob deletions processed by the deletion worker",
		},
		[]string{"status"}, // success/dropped
	)

	// GCQueueDepth tracks pending deletion batches.
	GCQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gc_queue_depth",
			Help:      "Deletion batches waiting in the queue",
		},
	)

	// ChunkAssemblies tracks chunked upload completions.
	ChunkAssemblies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_assemblies_total",
			Help:      "Chunked upload reassembly outcomes",
		},
		[]string{"status"}, // completed/rejected/expired
	)

	// ChunkBuffersActive tracks in-flight partial uploads.
	ChunkBuffersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunk_buffers_active",
			Help:      "Partial chunked uploads currently buffered",
		},
	)
)

// ObserveIngest records an ingest operation.
func ObserveIngest(source string, latencySeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	IngestsTotal.WithLabelValues(source, status).Inc()
	IngestLatency.WithLabelValues(source).Observe(latencySeconds)
}

// ObserveObjectStoreOp records an object store operation.
func ObserveObjectStoreOp(operation string, latencySeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ObjectStoreOps.WithLabelValues(operation, status).Inc()
	ObjectStoreLatency.WithLabelValues(operation).Observe(latencySeconds)
}

// AddTransformedRecords adds to the transformed record counter.
func AddTransformedRecords(n int) {
	if n > 0 {
		TransformRecords.WithLabelValues("transformed").Add(float64(n))
	}
}

// AddSkippedRecords adds to the skipped record counter.
func AddSkippedRecords(n int) {
	if n > 0 {
		TransformRecords.WithLabelValues("skipped").Add(float64(n))
	}
}

// AddMergeConflicts adds to the merge conflict counter.
func AddMergeConflicts(n int) {
	if n > 0 {
		MergeConflictsTotal.Add(float64(n))
	}
}

// AddGovernorExclusions adds to the governor exclusion counter.
func AddGovernorExclusions(n int) {
	if n > 0 {
		GovernorExclusionsTotal.Add(float64(n))
	}
}

// AddPayloadBytes records persisted payload bytes for a tier.
func AddPayloadBytes(tier string, n int) {
	if n > 0 {
		PayloadBytesWritten.WithLabelValues(tier).Add(float64(n))
	}
}

// ObserveGCDelete records a deletion worker outcome.
func ObserveGCDelete(status string) {
	GCDeletesTotal.WithLabelValues(status).Inc()
}

// ObserveChunkAssembly records a reassembly outcome.
func ObserveChunkAssembly(status string) {
	ChunkAssemblies.WithLabelValues(status).Inc()
}
