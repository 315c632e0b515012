package breaker

import (
	"time"

	"github.com/fleetops/failguard/internal/detector"
)

// Config holds the registration-time configuration of a single breaker.
// It is immutable once registered; changes go through Store.Update, which
// re-validates every invariant before swapping the config in.
type Config struct {
	// ID uniquely identifies the breaker.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable name.
	Name string `json:"name" yaml:"name"`

	// SystemLayer is the logical subsystem this breaker guards. Coordinated
	// isolation selects breakers by layer.
	SystemLayer string `json:"systemLayer" yaml:"systemLayer"`

	// BusinessImpactTier is the ordinal severity if this breaker trips.
	BusinessImpactTier ImpactTier `json:"businessImpactTier" yaml:"businessImpactTier"`

	// Strategy selects the failure-detection algorithm.
	Strategy detector.Strategy `json:"strategy" yaml:"strategy"`

	// FailureThreshold is the failure-rate threshold in (0, 1].
	FailureThreshold float64 `json:"failureThreshold" yaml:"failureThreshold"`

	// MinimumSamples is the minimum observation count before the ratio
	// test applies.
	MinimumSamples int `json:"minimumSamples" yaml:"minimumSamples"`

	// WindowLength bounds the sliding-window detector's memory.
	WindowLength time.Duration `json:"windowLength" yaml:"windowLength"`

	// OpenDuration is how long the breaker stays open before the next
	// admission call may probe.
	OpenDuration time.Duration `json:"openDuration" yaml:"openDuration"`

	// HalfOpenMaxProbes is the probe budget in half-open state. Zero
	// defaults to SuccessThreshold.
	HalfOpenMaxProbes int `json:"halfOpenMaxProbes" yaml:"halfOpenMaxProbes"`

	// EmergencyDuration is an advisory recovery horizon reported while the
	// breaker is in emergency state.
	EmergencyDuration time.Duration `json:"emergencyDuration" yaml:"emergencyDuration"`

	// SuccessThreshold is the consecutive successes required to close from
	// half-open.
	SuccessThreshold int `json:"successThreshold" yaml:"successThreshold"`

	// MaxRetryAttempts and BackoffMultiplier are recovery hints surfaced to
	// callers through decisions; the core does not retry itself.
	MaxRetryAttempts  int     `json:"maxRetryAttempts" yaml:"maxRetryAttempts"`
	BackoffMultiplier float64 `json:"backoffMultiplier" yaml:"backoffMultiplier"`

	// AdaptiveEnabled turns on background threshold recalibration.
	AdaptiveEnabled bool `json:"adaptiveEnabled" yaml:"adaptiveEnabled"`

	// MinThreshold and MaxThreshold bound the adaptive effective threshold.
	MinThreshold float64 `json:"minThreshold" yaml:"minThreshold"`
	MaxThreshold float64 `json:"maxThreshold" yaml:"maxThreshold"`

	// SmoothingFactor is the exponential smoothing factor in (0, 1) used by
	// the adaptive engine.
	SmoothingFactor float64 `json:"smoothingFactor" yaml:"smoothingFactor"`

	// CoordinationEnabled opts the breaker into cross-system coordinated
	// isolation.
	CoordinationEnabled bool `json:"coordinationEnabled" yaml:"coordinationEnabled"`

	// EmergencyEnabled allows critical-tier failures to escalate the
	// breaker to emergency state.
	EmergencyEnabled bool `json:"emergencyEnabled" yaml:"emergencyEnabled"`

	// BusinessAwareBreaking allows revenue-impacting requests through an
	// open breaker with lowered confidence and a fallback hint.
	BusinessAwareBreaking bool `json:"businessAwareBreaking" yaml:"businessAwareBreaking"`

	// HealthCheckURL, when set, lets the prober inform half-open recovery.
	HealthCheckURL string `json:"healthCheckUrl,omitempty" yaml:"healthCheckUrl,omitempty"`
}

// DefaultConfig returns a Config with default values for the given identity.
func DefaultConfig(id, name, layer string) *Config {
	return &Config{
		ID:                 id,
		Name:               name,
		SystemLayer:        layer,
		BusinessImpactTier: TierMedium,
		Strategy:           detector.StrategySimpleThreshold,
		FailureThreshold:   0.5,
		MinimumSamples:     10,
		WindowLength:       time.Minute,
		OpenDuration:       30 * time.Second,
		EmergencyDuration:  5 * time.Minute,
		SuccessThreshold:   3,
		MaxRetryAttempts:   3,
		BackoffMultiplier:  2.0,
		MinThreshold:       0.1,
		MaxThreshold:       0.9,
		SmoothingFactor:    0.3,
	}
}

// Validate checks every configuration invariant. It returns a *ConfigError
// wrapping ErrInvalidConfig on the first violation and normalizes optional
// fields to their defaults.
func (c *Config) Validate() error {
	if c.ID == "" {
		return newConfigError("", "id", "must not be empty")
	}
	if c.Name == "" {
		return newConfigError(c.ID, "name", "must not be empty")
	}
	if c.SystemLayer == "" {
		return newConfigError(c.ID, "systemLayer", "must not be empty")
	}
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		return newConfigError(c.ID, "failureThreshold", "must be in (0, 1]")
	}
	if c.MinimumSamples < 1 {
		return newConfigError(c.ID, "minimumSamples", "must be at least 1")
	}
	if c.OpenDuration <= 0 {
		return newConfigError(c.ID, "openDuration", "must be positive")
	}
	if c.SuccessThreshold < 1 {
		return newConfigError(c.ID, "successThreshold", "must be at least 1")
	}
	if c.Strategy == "" {
		c.Strategy = detector.StrategySimpleThreshold
	}
	if !c.Strategy.Valid() {
		return newConfigError(c.ID, "strategy", "unknown detection strategy "+string(c.Strategy))
	}
	if c.Strategy == detector.StrategySlidingWindow && c.WindowLength <= 0 {
		return newConfigError(c.ID, "windowLength", "must be positive for the sliding window strategy")
	}
	if c.WindowLength < 0 {
		return newConfigError(c.ID, "windowLength", "must not be negative")
	}
	if c.EmergencyDuration < 0 {
		return newConfigError(c.ID, "emergencyDuration", "must not be negative")
	}
	if c.MaxRetryAttempts < 0 {
		return newConfigError(c.ID, "maxRetryAttempts", "must not be negative")
	}
	if c.BackoffMultiplier != 0 && c.BackoffMultiplier < 1 {
		return newConfigError(c.ID, "backoffMultiplier", "must be at least 1")
	}
	if c.BusinessImpactTier == 0 {
		c.BusinessImpactTier = TierMedium
	}
	if c.BusinessImpactTier < TierLow || c.BusinessImpactTier > TierCritical {
		return newConfigError(c.ID, "businessImpactTier", "must be low, medium, high or critical")
	}
	if c.HalfOpenMaxProbes == 0 {
		c.HalfOpenMaxProbes = c.SuccessThreshold
	}
	if c.HalfOpenMaxProbes < c.SuccessThreshold {
		return newConfigError(c.ID, "halfOpenMaxProbes", "must be at least successThreshold")
	}

	if c.AdaptiveEnabled {
		if c.MinThreshold == 0 {
			c.MinThreshold = 0.1
		}
		if c.MaxThreshold == 0 {
			c.MaxThreshold = 0.9
		}
		if c.MinThreshold <= 0 || c.MinThreshold > 1 {
			return newConfigError(c.ID, "minThreshold", "must be in (0, 1]")
		}
		if c.MaxThreshold <= 0 || c.MaxThreshold > 1 {
			return newConfigError(c.ID, "maxThreshold", "must be in (0, 1]")
		}
		if c.MinThreshold > c.MaxThreshold {
			return newConfigError(c.ID, "minThreshold", "must not exceed maxThreshold")
		}
		if c.SmoothingFactor == 0 {
			c.SmoothingFactor = 0.3
		}
		if c.SmoothingFactor <= 0 || c.SmoothingFactor >= 1 {
			return newConfigError(c.ID, "smoothingFactor", "must be in (0, 1)")
		}
	}

	return nil
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
