package breaker

import "fmt"

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing whether the guarded
	// dependency has recovered.
	StateHalfOpen

	// StateForceOpen indicates an operator forced the circuit open. It is
	// never entered or exited by detector signals.
	StateForceOpen

	// StateEmergency indicates a business-critical failure escalated the
	// circuit. All traffic is denied until an explicit recovery signal.
	StateEmergency
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	case StateForceOpen:
		return "force-open"
	case StateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its string form.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a state from its string form.
func (s *State) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, ok := ParseState(raw)
	if !ok {
		return fmt.Errorf("unknown breaker state %q", raw)
	}
	*s = parsed
	return nil
}

// ParseState parses a state string as produced by String. It is used when
// restoring persisted state across restarts.
func ParseState(s string) (State, bool) {
	switch s {
	case "closed":
		return StateClosed, true
	case "open":
		return StateOpen, true
	case "half-open":
		return StateHalfOpen, true
	case "force-open":
		return StateForceOpen, true
	case "emergency":
		return StateEmergency, true
	default:
		return StateClosed, false
	}
}

// ImpactTier is an externally supplied ordinal severity classification for a
// failing operation. The core never computes it.
type ImpactTier int

const (
	// TierLow is a failure with negligible business impact.
	TierLow ImpactTier = iota + 1
	// TierMedium is a failure with limited business impact.
	TierMedium
	// TierHigh is a failure with significant business impact.
	TierHigh
	// TierCritical is a failure threatening revenue or safety; it triggers
	// emergency escalation when enabled.
	TierCritical
)

// String returns the string representation of the tier.
func (t ImpactTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the tier as its string form.
func (t ImpactTier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes a tier from its string form.
func (t *ImpactTier) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, ok := ParseImpactTier(raw)
	if !ok {
		return fmt.Errorf("unknown impact tier %q", raw)
	}
	*t = parsed
	return nil
}

// ParseImpactTier parses a tier string as produced by String.
func ParseImpactTier(s string) (ImpactTier, bool) {
	switch s {
	case "low":
		return TierLow, true
	case "medium":
		return TierMedium, true
	case "high":
		return TierHigh, true
	case "critical":
		return TierCritical, true
	default:
		return 0, false
	}
}
