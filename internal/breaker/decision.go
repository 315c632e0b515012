package breaker

import "time"

// RequestContext carries the caller-supplied business context for one
// admission decision. All fields are optional.
type RequestContext struct {
	// ImpactTier is the business severity of the operation being guarded.
	ImpactTier ImpactTier `json:"impactTier,omitempty"`

	// CustomerFacing marks requests that directly serve a customer.
	CustomerFacing bool `json:"customerFacing,omitempty"`

	// RevenueImpacting marks requests whose denial loses revenue. Combined
	// with BusinessAwareBreaking it can override an open breaker.
	RevenueImpacting bool `json:"revenueImpacting,omitempty"`
}

// FailureContext carries the caller-supplied context of a recorded failure.
type FailureContext struct {
	// ImpactTier is the externally classified severity of the failure.
	ImpactTier ImpactTier `json:"impactTier"`

	// EstimatedValueAtRisk is the caller's estimate of business value
	// exposed by this failure, accumulated while the breaker is degraded.
	EstimatedValueAtRisk float64 `json:"estimatedValueAtRisk,omitempty"`

	// Reason describes the failure for transition audit records.
	Reason string `json:"reason,omitempty"`
}

// Decision is the ephemeral result of one admission call.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// State is the breaker state the decision was derived from, after any
	// lazily applied transition.
	State State `json:"state"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason"`

	// EstimatedRecovery, when non-zero, is the earliest time the breaker
	// will re-evaluate an open circuit.
	EstimatedRecovery time.Time `json:"estimatedRecovery,omitempty"`

	// FallbackHint suggests an alternate path when a request is allowed
	// through a degraded breaker or denied with a known mitigation.
	FallbackHint string `json:"fallbackHint,omitempty"`

	// FailureRate and Threshold are the pair the decision was based on.
	FailureRate float64 `json:"failureRate"`
	Threshold   float64 `json:"threshold"`

	// Confidence is 1.0 for ordinary allows and lowered for business-aware
	// overrides through an open breaker.
	Confidence float64 `json:"confidence"`

	// EscalationRequired marks decisions the core cannot resolve itself;
	// the caller's external escalation path must act.
	EscalationRequired bool `json:"escalationRequired,omitempty"`
}

// Status is the full monitoring view of one breaker.
type Status struct {
	Config        *Config  `json:"config"`
	Metrics       Snapshot `json:"metrics"`
	HealthSummary string   `json:"healthSummary"`
}
