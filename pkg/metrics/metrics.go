package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Indexing
	ImagesClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_images_claimed_total",
			Help: "Images moved from pending/failed to processing by a batch",
		},
	)

	ImagesIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_images_indexed_total",
			Help: "Per-image indexing outcomes",
		},
		[]string{"outcome"}, // "indexed", "failed"
	)

	StuckResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_stuck_resets_total",
			Help: "Images force-reset from processing back to pending",
		},
	)

	// Matching and deletion
	FaceSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_face_searches_total",
			Help: "Face searches by outcome",
		},
		[]string{"outcome"}, // "matched", "no_match", "no_profile_photo", "error"
	)

	ImagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_images_deleted_total",
			Help: "Image metadata rows removed by the deletion coordinator",
		},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_notifications_total",
			Help: "Chat notifications by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: single, broadcast, digest; outcome: sent, failed, blocked
	)

	WebhookUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_webhook_updates_total",
			Help: "Inbound bot updates by command",
		},
		[]string{"command"},
	)

	// External dependencies
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_provider_request_duration_seconds",
			Help:    "Latency of calls to external providers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_provider_errors_total",
			Help: "Failed calls to external providers",
		},
		[]string{"provider", "operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// ObserveProvider records one provider call.
func ObserveProvider(provider, operation string, start time.Time, err error) {
	ProviderRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		ProviderErrors.WithLabelValues(provider, operation).Inc()
	}
}
