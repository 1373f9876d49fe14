package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tafkit_events_received_total",
			Help: "Push events decoded and dispatched, by event name",
		},
		[]string{"event"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tafkit_events_dropped_total",
			Help: "Push events discarded before dispatch, by reason",
		},
		[]string{"reason"},
	)

	streamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tafkit_events_reconnects_total",
			Help: "Event stream reconnect attempts after a transport error",
		},
	)

	streamResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tafkit_events_resyncs_total",
			Help: "Resync callbacks fired after stream errors",
		},
	)
)

// RecordDropped counts an event discarded by a consumer, for example a
// progress event whose correlation ID matches no known item.
func RecordDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}
