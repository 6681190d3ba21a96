// Package middleware provides HTTP middleware components for the BoostProxy server.
// This file contains Prometheus metrics middleware and the boost loop counters.
package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boostproxy_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boostproxy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpRequestSizeBytes tracks the size of HTTP request bodies.
	httpRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boostproxy_http_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boostproxy_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	// upstreamErrors counts failed calls to the boost and execution backends.
	upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boostproxy_upstream_errors_total",
			Help: "Total number of failed upstream calls",
		},
		[]string{"upstream", "kind"},
	)

	// Boost cache metrics, labelled by cache name (guidance, sections).
	boostCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boostproxy_cache_hits_total",
			Help: "Total number of boost cache hits",
		},
		[]string{"cache"},
	)
	boostCacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boostproxy_cache_misses_total",
			Help: "Total number of boost cache misses",
		},
		[]string{"cache"},
	)
	boostCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boostproxy_cache_size",
			Help: "Current number of entries in a boost cache",
		},
		[]string{"cache"},
	)

	// Orchestration loop metrics
	boostIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boostproxy_loop_iterations",
			Help:    "Number of boost queries issued per orchestrated request",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)
	boostOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boostproxy_loop_outcomes_total",
			Help: "Terminal outcomes of the orchestration loop",
		},
		[]string{"outcome"},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}

	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestSizeBytes,
		activeConnections,
		upstreamErrors,
		boostCacheHitsTotal,
		boostCacheMissesTotal,
		boostCacheSize,
		boostIterations,
		boostOutcomes,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects request count,
// duration and in-flight connections.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		activeConnections.Inc()
		defer activeConnections.Dec()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method

		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath keeps the label set bounded.
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/healthz", "/metrics", "/test-connection":
		return path
	case "/v1/messages", "/messages":
		return "/v1/messages"
	case "/v1/messages/count_tokens":
		return "/v1/messages/count_tokens"
	default:
		return "other"
	}
}

// MetricsHandler returns the Prometheus HTTP handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordUpstreamError records a failed call. upstream is "boost" or "backend";
// kind is a short failure class such as "transport" or "protocol".
func RecordUpstreamError(upstream, kind string) {
	if !IsMetricsEnabled() {
		return
	}
	upstreamErrors.WithLabelValues(upstream, kind).Inc()
}

// RecordCacheHit increments the hit counter of the named cache.
func RecordCacheHit(name string) {
	if !IsMetricsEnabled() {
		return
	}
	boostCacheHitsTotal.WithLabelValues(name).Inc()
}

// RecordCacheMiss increments the miss counter of the named cache.
func RecordCacheMiss(name string) {
	if !IsMetricsEnabled() {
		return
	}
	boostCacheMissesTotal.WithLabelValues(name).Inc()
}

// SetCacheSize sets the size gauge of the named cache.
func SetCacheSize(name string, size int) {
	if !IsMetricsEnabled() {
		return
	}
	boostCacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordLoopOutcome records how an orchestrated request ended and how many
// boost queries it took.
func RecordLoopOutcome(outcome string, iterations int) {
	if !IsMetricsEnabled() {
		return
	}
	boostOutcomes.WithLabelValues(outcome).Inc()
	if iterations > 0 {
		boostIterations.Observe(float64(iterations))
	}
}
