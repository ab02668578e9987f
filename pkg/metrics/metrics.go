// Package metrics holds the service's Prometheus collectors and the HTTP
// middleware that feeds the request metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "saasbilling"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	usageEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_total",
			Help:      "Usage tracking attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by provider, event type and outcome",
		},
		[]string{"provider", "event", "outcome"},
	)

	subscriptionChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_changes_total",
			Help:      "Subscription lifecycle changes by operation",
		},
		[]string{"operation"},
	)

	jobStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_streams_active",
			Help:      "Number of open job status streams",
		},
	)
)

// Usage outcomes.
const (
	OutcomeRecorded = "recorded"
	OutcomeExceeded = "exceeded"
	OutcomeFailed   = "failed"
)

// Webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUsage counts a usage tracking attempt.
func ObserveUsage(action, outcome string) {
	usageEventsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveWebhook counts an inbound webhook event.
func ObserveWebhook(provider, event, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, event, outcome).Inc()
}

// ObserveSubscriptionChange counts a subscription lifecycle operation.
func ObserveSubscriptionChange(operation string) {
	subscriptionChangesTotal.WithLabelValues(operation).Inc()
}

// StreamOpened increments the open job stream gauge and returns the func
// that decrements it.
func StreamOpened() (closed func()) {
	jobStreamsActive.Inc()
	return jobStreamsActive.Dec
}
