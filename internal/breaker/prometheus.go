package breaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState shows the current state of each breaker
	// (0=closed, 1=open, 2=half-open, 3=force-open, 4=emergency).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failguard_breaker_state",
			Help: "Current state of the breaker (0=closed, 1=open, 2=half-open, 3=force-open, 4=emergency)",
		},
		[]string{"breaker"},
	)

	// BreakerDecisionsTotal counts admission decisions.
	BreakerDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_breaker_decisions_total",
			Help: "Total number of admission decisions",
		},
		[]string{"breaker", "result"},
	)

	// BreakerRejectedTotal counts denied requests.
	BreakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_breaker_rejected_total",
			Help: "Total number of requests denied by breakers",
		},
		[]string{"breaker"},
	)

	// BreakerFailuresTotal counts recorded failures.
	BreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_breaker_failures_total",
			Help: "Total number of failures recorded",
		},
		[]string{"breaker"},
	)

	// BreakerSuccessesTotal counts recorded successes.
	BreakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_breaker_successes_total",
			Help: "Total number of successes recorded",
		},
		[]string{"breaker"},
	)

	// BreakerTransitionsTotal counts state transitions.
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_breaker_transitions_total",
			Help: "Total number of breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	// BreakerDetectorFailuresTotal counts detector evaluation failures,
	// kept distinct from genuine application failures.
	BreakerDetectorFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failguard_breaker_detector_failures_total",
			Help: "Total number of failure-detector evaluation errors",
		},
		[]string{"breaker"},
	)

	// BreakerValueAtRisk exposes the accumulated business value at risk.
	BreakerValueAtRisk = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failguard_breaker_value_at_risk",
			Help: "Estimated business value at risk while the breaker is degraded",
		},
		[]string{"breaker"},
	)

	// BreakerEffectiveThreshold exposes the adaptive effective threshold.
	BreakerEffectiveThreshold = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failguard_breaker_effective_threshold",
			Help: "Adaptively recalibrated failure-rate threshold",
		},
		[]string{"breaker"},
	)

	// BreakerOutcomeLatency observes reported request latencies.
	BreakerOutcomeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failguard_breaker_outcome_latency_seconds",
			Help:    "Latency of successful requests reported to breakers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"breaker"},
	)
)

// RecordState records the current state of a breaker.
func RecordState(id string, state State) {
	BreakerState.WithLabelValues(id).Set(float64(state))
}

// RecordDecision records an admission decision.
func RecordDecision(id string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
		BreakerRejectedTotal.WithLabelValues(id).Inc()
	}
	BreakerDecisionsTotal.WithLabelValues(id, result).Inc()
}

// RecordFailure records a failure outcome.
func RecordFailure(id string) {
	BreakerFailuresTotal.WithLabelValues(id).Inc()
}

// RecordSuccess records a success outcome.
func RecordSuccess(id string) {
	BreakerSuccessesTotal.WithLabelValues(id).Inc()
}

// RecordTransition records a state transition.
func RecordTransition(id string, from, to State) {
	BreakerTransitionsTotal.WithLabelValues(id, from.String(), to.String()).Inc()
	RecordState(id, to)
}

// RecordDetectorFailure records a detector evaluation failure.
func RecordDetectorFailure(id string) {
	BreakerDetectorFailuresTotal.WithLabelValues(id).Inc()
}

// RecordValueAtRisk records the accumulated value at risk.
func RecordValueAtRisk(id string, v float64) {
	BreakerValueAtRisk.WithLabelValues(id).Set(v)
}

// RecordEffectiveThreshold records the adaptive effective threshold.
func RecordEffectiveThreshold(id string, v float64) {
	BreakerEffectiveThreshold.WithLabelValues(id).Set(v)
}

// ObserveLatency observes a reported success latency.
func ObserveLatency(id string, d time.Duration) {
	if d > 0 {
		BreakerOutcomeLatency.WithLabelValues(id).Observe(d.Seconds())
	}
}
