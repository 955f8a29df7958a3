// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockAcquireAttempts tracks store attempts made while acquiring locks.
	LockAcquireAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquire_attempts_total",
			Help: "Total lock acquisition attempts by mode",
		},
		[]string{"mode"},
	)

	// LockAcquisitions tracks finished acquisitions by mode and result.
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquisitions_total",
			Help: "Total lock acquisitions by mode and result",
		},
		[]string{"mode", "result"},
	)

	// LockAcquireWait tracks the time spent until a lock was acquired.
	LockAcquireWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lock_acquire_wait_seconds",
			Help:    "Time spent acquiring a lock in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// LockRefreshes tracks successful lease refreshes.
	LockRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lock_refreshes_total",
			Help: "Total successful lease refreshes",
		},
	)

	// LockReleases tracks locks given back by their owner.
	LockReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lock_releases_total",
			Help: "Total locks released by their owner",
		},
	)

	// LockReleaseFailures tracks releases the store could not confirm.
	LockReleaseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lock_release_failures_total",
			Help: "Total lock releases that failed with a store error",
		},
	)

	// LocksLost tracks leases found expired or reassigned.
	LocksLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locks_lost_total",
			Help: "Total leases lost before release",
		},
	)

	// LocksHeld tracks locks currently held by this process.
	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "locks_held",
			Help: "Current number of locks held by this process",
		},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// GRPCRequestsTotal tracks total gRPC requests.
	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total gRPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	// GRPCRequestDuration tracks gRPC request duration.
	GRPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// LockStoreCleanups tracks expired entries removed by the cleanup job.
	LockStoreCleanups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lock_store_cleanup_removed_total",
			Help: "Total expired lock entries removed by the cleanup job",
		},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	RegisterMetricsEndpointWithPath(router, "/metrics")
}

// RegisterMetricsEndpointWithPath registers the metrics endpoint at a custom path.
func RegisterMetricsEndpointWithPath(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// HTTPMetrics returns a Gin middleware recording request counts and durations.
// Paths are recorded as route templates to keep label cardinality bounded.
func HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
		RecordHTTPRequestDuration(c.Request.Method, path, time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordGRPCRequest records a gRPC request.
func RecordGRPCRequest(method, status string) {
	GRPCRequestsTotal.WithLabelValues(method, status).Inc()
}

// RecordGRPCRequestDuration records gRPC request duration.
func RecordGRPCRequestDuration(method string, seconds float64) {
	GRPCRequestDuration.WithLabelValues(method).Observe(seconds)
}

// RecordLockStoreCleanup records entries removed by one cleanup run.
func RecordLockStoreCleanup(removed int64) {
	if removed > 0 {
		LockStoreCleanups.Add(float64(removed))
	}
}
