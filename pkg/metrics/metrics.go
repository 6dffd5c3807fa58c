package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound hh.ru webhook events by action type and
	// outcome (created|unknown_user|ignored|invalid|error).
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hhnotify_webhook_events_total",
			Help: "Total number of inbound hh.ru webhook events",
		},
		[]string{"action", "result"},
	)

	// NotificationsCreated counts queued notifications by source (webhook|poll) and kind.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hhnotify_notifications_created_total",
			Help: "Total number of notifications written to the queue",
		},
		[]string{"source", "kind"},
	)

	// NotificationsDelivered counts delivery attempts by result (sent|muted|failed).
	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hhnotify_notifications_delivered_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"result"},
	)

	// PollCycles counts completed poll ingestor cycles by result (ok|error).
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hhnotify_poll_cycles_total",
			Help: "Total number of hh.ru poll cycles",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hhnotify_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
