package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendOperations counts backend calls by kind (memory, filesystem, s3, url),
	// operation (store, load, delete, exists) and result.
	BackendOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacer_backend_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"kind", "operation", "result"},
	)

	BackendBytesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacer_backend_bytes_loaded_total",
			Help: "Total number of bytes returned by backend loads",
		},
		[]string{"kind"},
	)

	// ArtifactCacheLookups counts read-through cache lookups by layer (memory, disk) and outcome.
	ArtifactCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacer_artifact_cache_lookups_total",
			Help: "Total number of read-through artifact cache lookups",
		},
		[]string{"layer", "outcome"},
	)

	ModelDownloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spacer_model_downloads_total",
			Help: "Total number of model files downloaded from the object store",
		},
	)

	ModelCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spacer_model_cache_hits_total",
			Help: "Total number of model requests served from the local model directory",
		},
	)

	ClassifierCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spacer_classifier_cache_hits_total",
			Help: "Total number of classifier cache hits",
		},
	)

	ClassifierCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spacer_classifier_cache_misses_total",
			Help: "Total number of classifier cache misses",
		},
	)

	ClassifierCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spacer_classifier_cache_evictions_total",
			Help: "Total number of classifiers evicted from the cache",
		},
	)

	// CodecWarnings counts decode advisories by disposition (suppressed, surfaced).
	CodecWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacer_classifier_codec_warnings_total",
			Help: "Total number of warnings raised while decoding classifiers",
		},
		[]string{"disposition"},
	)
)
