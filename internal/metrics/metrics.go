package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexus"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Upload outcomes.",
	}, []string{"result"})

	uploadedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes accepted by category.",
	}, []string{"category"})

	deletes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deletes_total",
		Help:      "Delete outcomes.",
	}, []string{"result"})

	reconcileOwners = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_owners_total",
		Help:      "Owners visited by the ledger sweep, by outcome.",
	}, []string{"outcome"})

	reconcileTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_tasks_total",
		Help:      "Reconciliation tasks by kind and state.",
	}, []string{"kind", "state"})

	registerOnce sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to call repeatedly.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			uploads,
			uploadedBytes,
			deletes,
			reconcileOwners,
			reconcileTasks,
		)
	})
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveUpload counts an upload outcome; bytes are only added for accepted uploads.
func ObserveUpload(result, category string, size int64) {
	uploads.WithLabelValues(result).Inc()
	if category != "" && size > 0 {
		uploadedBytes.WithLabelValues(category).Add(float64(size))
	}
}

// ObserveDelete counts a delete outcome.
func ObserveDelete(result string) {
	deletes.WithLabelValues(result).Inc()
}

// ObserveReconcile counts an owner visited by the sweep.
func ObserveReconcile(outcome string) {
	reconcileOwners.WithLabelValues(outcome).Inc()
}

// ObserveTask counts a reconciliation task transition.
func ObserveTask(kind, state string) {
	reconcileTasks.WithLabelValues(kind, state).Inc()
}
