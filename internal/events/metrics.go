package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionEventsPublished counts events delivered to the outbound channel.
	TransitionEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "failguard_transition_events_published_total",
			Help: "Total number of state transition events published",
		},
	)

	// TransitionEventsDropped counts events dropped because the buffer was full.
	TransitionEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "failguard_transition_events_dropped_total",
			Help: "Total number of state transition events dropped due to a full buffer",
		},
	)
)

// RecordPublished records a delivered event.
func RecordPublished() {
	TransitionEventsPublished.Inc()
}

// RecordDropped records a dropped event.
func RecordDropped() {
	TransitionEventsDropped.Inc()
}
