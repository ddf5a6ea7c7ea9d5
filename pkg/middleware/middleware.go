// Package middleware carries the HTTP cross-cutting concerns: panic
// recovery, request logging with statsd timings, and the Prometheus
// collectors served at /metrics.
package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/doublewordai/arbiter/pkg/logger"
	"github.com/doublewordai/arbiter/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_http_requests_total",
			Help: "HTTP requests processed, by route and status code.",
		},
		[]string{"route", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbiter_http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Recovery turns handler panics into 500 responses instead of dropped
// connections.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("route", c.FullPath()).
					Interface("panic", r).
					Msg("Recovered from handler panic")
				metrics.Count("arbiter.http.panic.total", 1, []string{"route:" + c.FullPath()})
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}

// RequestTelemetry logs each request and reports latency to both the statsd
// sink and the Prometheus collectors.
func RequestTelemetry() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		elapsed := time.Since(startTime)

		httpRequestsTotal.WithLabelValues(route, status).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		tags := []string{"route:" + route, "status:" + status}
		metrics.Count("arbiter.http.request.total", 1, tags)
		metrics.Timing("arbiter.http.request.latency", elapsed, tags)

		if c.Writer.Status() >= 500 {
			logger.Error(fmt.Sprintf("%s %s | %s | %s", c.Request.Method, route, status, elapsed), nil)
		} else {
			logger.Debug(fmt.Sprintf("%s %s | %s | %s", c.Request.Method, route, status, elapsed))
		}
	}
}
