package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybus_events_published_total",
			Help: "Total number of events accepted.",
		},
		[]string{"source_service", "event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybus_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybus_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybus_dlq_total",
			Help: "Total number of deliveries dead-lettered.",
		},
		[]string{"reason"},
	)

	ReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relaybus_replays_total",
			Help: "Total number of events re-entered through replay.",
		},
	)

	CallbackLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaybus_callback_latency_seconds",
			Help:    "Latency of subscriber callback calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	DispatcherBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaybus_dispatcher_backlog",
			Help: "Depth of the deliveries channel as reported by the broker.",
		},
	)
)

// MustRegister registers all bus metrics on the given registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsPublishedTotal,
		DeliveriesTotal,
		RetriesTotal,
		DLQTotal,
		ReplaysTotal,
		CallbackLatency,
		DispatcherBacklog,
	)
}

// RecordEventPublished increments the publish counter.
func RecordEventPublished(sourceService, eventType string) {
	EventsPublishedTotal.WithLabelValues(sourceService, eventType).Inc()
}

// RecordDelivery records one callback attempt outcome and its latency.
func RecordDelivery(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	CallbackLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordRetry increments the retry counter for a failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ increments the dead-letter counter for a failure reason.
func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

// RecordReplay increments the replay counter.
func RecordReplay() {
	ReplaysTotal.Inc()
}

// UpdateBacklog sets the dispatcher backlog gauge.
func UpdateBacklog(depth float64) {
	DispatcherBacklog.Set(depth)
}
