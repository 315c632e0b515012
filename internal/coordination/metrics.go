package coordination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CoordinationsTotal counts coordinated isolation events.
	CoordinationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_coordinations_total",
			Help: "Total number of coordinated isolation events",
		},
		[]string{"strategy", "outcome"},
	)

	// CoordinationBreakersTotal counts per-breaker outcomes across all
	// coordinations.
	CoordinationBreakersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_coordination_breakers_total",
			Help: "Total number of breakers touched by coordinated isolation",
		},
		[]string{"result"},
	)

	// CoordinationActiveMonitors tracks pending recovery monitors.
	CoordinationActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failguard_coordination_active_monitors",
			Help: "Number of pending coordinated recovery monitors",
		},
	)
)

// RecordCoordination records a coordination event.
func RecordCoordination(strategy string, partialFailure bool) {
	outcome := "complete"
	if partialFailure {
		outcome = "partial"
	}
	CoordinationsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordBreakerResult records the outcome for one breaker in a coordination.
func RecordBreakerResult(result string) {
	CoordinationBreakersTotal.WithLabelValues(result).Inc()
}

// RecordActiveMonitors adjusts the active monitor gauge.
func RecordActiveMonitors(delta int) {
	CoordinationActiveMonitors.Add(float64(delta))
}
