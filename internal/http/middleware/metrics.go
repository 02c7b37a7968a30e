// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels:
//
//   - method: HTTP verb
//   - route:  the registered Gin route (e.g. /api/v1/conflicts/:id/resolve),
//     or "unmatched" when no route matched so scanners cannot inflate
//     cardinality
//   - status: numeric status code as a string
//   - replay: "true" when DeliveryReplay recognised a redelivery
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	httpReqs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "replay"},
	)

	// status is left out to keep the histogram small.
	httpLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Gateway payloads and operator listings are small JSON documents.
	httpRespSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		},
		[]string{"method", "route"},
	)
)

// Metrics returns a Gin middleware that instruments requests with Prometheus.
// Register it after DeliveryReplay so the replay label is populated.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, route, status, strconv.FormatBool(IsReplay(c))).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
