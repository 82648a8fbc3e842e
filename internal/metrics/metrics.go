package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Events published to the bus, by type and result",
		},
		[]string{"type", "result"},
	)

	eventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_consumed_total",
			Help: "Events consumed from the bus, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	bookingsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_resolved_total",
			Help: "Bookings reaching a terminal status",
		},
		[]string{"status"},
	)
)

func EventPublished(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType, "ok").Inc()
}

func EventPublishFailed(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType, "error").Inc()
}

// EventConsumed records a processed delivery. Outcome is one of
// applied, discarded, duplicate, requeued.
func EventConsumed(eventType, outcome string) {
	eventsConsumedTotal.WithLabelValues(eventType, outcome).Inc()
}

func BookingResolved(status string) {
	bookingsResolvedTotal.WithLabelValues(status).Inc()
}
