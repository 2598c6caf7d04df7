// Package telemetry exposes Prometheus collectors behind small helpers so
// callers never touch collector plumbing directly.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamgate_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamgate_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	rateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamgate_ratelimit_decisions_total",
			Help: "Rate limiter outcomes, labeled by scope and decision.",
		},
		[]string{"scope", "decision"},
	)

	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamgate_scheduler_runs_total",
			Help: "Scheduled job executions, labeled by job and status.",
		},
		[]string{"job", "status"},
	)

	queueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamgate_queue_messages_total",
			Help: "Queue messages processed, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	queueRetryDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamgate_queue_retry_delay_seconds",
			Help:    "Backoff delays applied to retried messages, labeled by kind.",
			Buckets: []float64{1, 5, 15, 60, 300, 900},
		},
		[]string{"kind"},
	)
)

// ObserveHTTPRequest records one completed HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimit records one limiter decision for the given scope.
func ObserveRateLimit(scope string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	rateLimitDecisionsTotal.WithLabelValues(scope, decision).Inc()
}

// ObserveSchedulerRun records one scheduled job execution.
func ObserveSchedulerRun(job, status string) {
	schedulerRunsTotal.WithLabelValues(job, status).Inc()
}

// ObserveQueueMessage records the outcome of one processed queue message.
func ObserveQueueMessage(kind, outcome string) {
	queueMessagesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRetryDelay records the backoff applied before a retry.
func ObserveRetryDelay(kind string, delay time.Duration) {
	queueRetryDelaySeconds.WithLabelValues(kind).Observe(delay.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
