package app

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whydatawhy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "whydatawhy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	modelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whydatawhy",
			Subsystem: "model",
			Name:      "requests_total",
			Help:      "Model provider calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	quotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whydatawhy",
			Subsystem: "usage",
			Name:      "decisions_total",
			Help:      "Usage gate decisions by plan and result",
		},
		[]string{"plan", "allowed"},
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "whydatawhy",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Payment webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "whydatawhy",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Anonymous requests rejected by the IP limiter",
		},
	)
)

// Metrics records request counts and latencies per route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func recordDecision(d Decision) {
	plan := "free"
	if d.IsPro {
		plan = "pro"
	}
	quotaDecisionsTotal.WithLabelValues(plan, strconv.FormatBool(d.Allowed)).Inc()
}
