package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the webhook ingestion pipeline
var (
	WebhookEventsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of webhook deliveries received",
		},
	)

	WebhookEventsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_events_rejected_total",
			Help: "Total number of webhook deliveries rejected at signature verification",
		},
	)

	EventsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of verified events handed to the queue or inline dispatcher",
		},
	)

	EventsDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_duplicate_total",
			Help: "Total number of dispatched events that were already processed",
		},
	)

	EventsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Total number of events whose effects were applied",
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_dispatch_duration_seconds",
			Help:    "Duration of event dispatch including persistence",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveryTasksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_tasks_failed_total",
			Help: "Total number of deliverable tasks that failed",
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(WebhookEventsReceivedTotal)
	prometheus.MustRegister(WebhookEventsRejectedTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsDuplicateTotal)
	prometheus.MustRegister(EventsProcessedTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(DeliveryTasksFailedTotal)
}
