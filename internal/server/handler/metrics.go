package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rlogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlog_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	rlogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rlog_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	rlogEntriesAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rlog_entries_appended_total",
		Help: "Total log entries appended since process start.",
	})

	rlogTreeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rlog_tree_size",
		Help: "Number of leaves in the published tree.",
	})

	rlogVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlog_verifications_total",
		Help: "Total proof verifications by result (valid, invalid, malformed).",
	}, []string{"result"})

	rlogAnchorCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlog_anchor_cycles_total",
		Help: "Total anchor cycles by outcome.",
	}, []string{"outcome"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		rlogRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		rlogRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordAppend counts one appended entry.
func RecordAppend() {
	rlogEntriesAppendedTotal.Inc()
}

// SetTreeSize sets the tree size gauge.
func SetTreeSize(size uint64) {
	rlogTreeSize.Set(float64(size))
}

// RecordVerify counts one verification by result.
func RecordVerify(result string) {
	rlogVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordAnchorCycle counts one anchor cycle. It matches
// anchor.MetricsRecordFunc.
func RecordAnchorCycle(outcome string) {
	rlogAnchorCyclesTotal.WithLabelValues(outcome).Inc()
}
