package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are registered globally, so each binary also exports the
// other plane's series with zero values.

const namespace = "bifrost"

// lowLatencyBuckets covers the decision path, which sits in front of every
// proxied request. Range: 0.5ms to 500ms.
var lowLatencyBuckets = []float64{.0005, .001, .002, .005, .010, .025, .050, .100, .250, .500}

// Cache kinds used as label values.
const (
	CacheKindRules     = "rules"
	CacheKindWhitelist = "whitelist"
)

// Decision outcomes used as label values.
const (
	OutcomeGray   = "gray"
	OutcomeStable = "stable"
	OutcomeError  = "error"
)

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration: bifrost_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ControlPlaneReqTotal: bifrost_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "path", "code"})

	// InvalidationsPublished counts post-commit invalidation calls by result.
	InvalidationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "invalidations_total",
		Help:      "Post-commit cache invalidations issued by the admin API",
	}, []string{"status"}) // success, fail

	// -------------------------------------------------------------------------
	// DATA PLANE (HTTP + gRPC)
	// -------------------------------------------------------------------------

	// DataPlaneHTTPDuration: bifrost_data_plane_http_handling_seconds
	DataPlaneHTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle decision HTTP requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "path"})

	// DataPlaneHTTPTotal: bifrost_data_plane_http_requests_total
	DataPlaneHTTPTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_requests_total",
		Help:      "Total decision HTTP requests",
	}, []string{"method", "path", "code"})

	// DataPlaneGrpcDuration: bifrost_data_plane_grpc_handling_seconds
	DataPlaneGrpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_handling_seconds",
		Help:      "Time taken to handle gRPC requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "code"})

	// DataPlaneGrpcTotal: bifrost_data_plane_grpc_requests_total
	DataPlaneGrpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_requests_total",
		Help:      "Total gRPC requests",
	}, []string{"method", "code"})

	// -------------------------------------------------------------------------
	// DECISION ENGINE + CACHE
	// -------------------------------------------------------------------------

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "decisions_total",
		Help:      "Decisions produced, by outcome",
	}, []string{"outcome"})

	DecisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "duration_seconds",
		Help:      "Time spent producing one decision, cache lookups included",
		Buckets:   lowLatencyBuckets,
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "cache_hits_total",
		Help:      "Decision cache hits",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "cache_misses_total",
		Help:      "Decision cache misses (absent, expired or invalidated)",
	}, []string{"kind"})

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "cache_invalidations_total",
		Help:      "Full decision cache invalidations",
	})

	// CacheWhitelistItems tracks the number of per-rule whitelist sets held in memory.
	CacheWhitelistItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "cache_whitelist_items_count",
		Help:      "Current number of whitelist sets in the decision cache",
	})

	// StoreQueryDuration measures rule store reads issued on cache fill.
	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "store_query_seconds",
		Help:      "Rule store reads issued by the decision cache",
		Buckets:   lowLatencyBuckets,
	}, []string{"query", "status"})

	// InvalidationEventsReceived counts events consumed from the Redis bus.
	InvalidationEventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "invalidation_events_total",
		Help:      "Invalidation events received via PubSub",
	})

	// -------------------------------------------------------------------------
	// SYNCER (cache hydrator)
	// -------------------------------------------------------------------------

	SyncerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycle_duration_seconds",
		Help:      "Time taken by one cache refresh cycle",
		Buckets:   prometheus.DefBuckets,
	})

	SyncerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycles_total",
		Help:      "Cache refresh cycles",
	}, []string{"status"}) // success, fail

	// -------------------------------------------------------------------------
	// DATABASE POOL
	// -------------------------------------------------------------------------

	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "PostgreSQL pool connections by state",
	}, []string{"state"}) // total, idle, in_use, max

	DatabasePoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Successful connection acquisitions",
	})

	DatabasePoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Acquisitions that had to wait for a free connection",
	})
)
