package breaker

import (
	"time"

	"github.com/fleetops/failguard/internal/detector"
)

// maxHistory bounds the per-breaker transition history.
const maxHistory = 128

// maxWindowSamples bounds the per-breaker outcome window regardless of the
// configured window length.
const maxWindowSamples = 1024

// Transition is an immutable audit record of one state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`

	// Snapshot of the triggering metrics.
	Failures    int     `json:"failures"`
	Successes   int     `json:"successes"`
	Total       int     `json:"total"`
	FailureRate float64 `json:"failureRate"`
}

// Snapshot is a consistent, point-in-time copy of a breaker's metrics.
type Snapshot struct {
	State                State     `json:"state"`
	Failures             int       `json:"failures"`
	Successes            int       `json:"successes"`
	Total                int       `json:"total"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	FailureRate          float64   `json:"failureRate"`
	LastFailure          time.Time `json:"lastFailure,omitempty"`
	LastSuccess          time.Time `json:"lastSuccess,omitempty"`
	StateEnteredAt       time.Time `json:"stateEnteredAt"`
	HalfOpenProbes       int       `json:"halfOpenProbes"`
	EffectiveThreshold   float64   `json:"effectiveThreshold,omitempty"`
	ValueAtRisk          float64   `json:"valueAtRisk"`

	Window  []detector.Sample `json:"-"`
	History []Transition      `json:"history,omitempty"`
}

// OpenDeadline returns the earliest re-evaluation time for a breaker that
// entered the open state at StateEnteredAt.
func (s Snapshot) OpenDeadline(openDuration time.Duration) time.Time {
	return s.StateEnteredAt.Add(openDuration)
}
