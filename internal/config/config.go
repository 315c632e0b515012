// Package config provides configuration management for the failure
// isolation service: the application settings, the breaker definitions
// file, and hot reload of breaker definitions on file change.
package config

import (
	"fmt"
	"time"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/detector"
)

// Config holds all settings for the failguard service.
type Config struct {
	// Server settings.
	ListenAddr      string   `yaml:"listenAddr"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// Logging.
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	LogOutput string `yaml:"logOutput"`

	// Background schedules.
	RecalibrationInterval Duration `yaml:"recalibrationInterval"`
	ProbeInterval         Duration `yaml:"probeInterval"`
	ProbeTimeout          Duration `yaml:"probeTimeout"`
	ProbeRatePerSecond    float64  `yaml:"probeRatePerSecond"`

	// Coordination.
	CoordinationTimeout Duration `yaml:"coordinationTimeout"`
	EventBuffer         int      `yaml:"eventBuffer"`

	// Persistence (optional).
	Redis RedisConfig `yaml:"redis"`

	// Breakers registered at startup.
	Breakers []BreakerSpec `yaml:"breakers"`
}

// RedisConfig configures the optional persistence adapter.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BreakerSpec is the YAML shape of one breaker definition.
type BreakerSpec struct {
	ID                    string   `yaml:"id"`
	Name                  string   `yaml:"name"`
	SystemLayer           string   `yaml:"systemLayer"`
	BusinessImpactTier    string   `yaml:"businessImpactTier"`
	Strategy              string   `yaml:"strategy"`
	FailureThreshold      float64  `yaml:"failureThreshold"`
	MinimumSamples        int      `yaml:"minimumSamples"`
	WindowLength          Duration `yaml:"windowLength"`
	OpenDuration          Duration `yaml:"openDuration"`
	HalfOpenMaxProbes     int      `yaml:"halfOpenMaxProbes"`
	EmergencyDuration     Duration `yaml:"emergencyDuration"`
	SuccessThreshold      int      `yaml:"successThreshold"`
	MaxRetryAttempts      int      `yaml:"maxRetryAttempts"`
	BackoffMultiplier     float64  `yaml:"backoffMultiplier"`
	AdaptiveEnabled       bool     `yaml:"adaptiveEnabled"`
	MinThreshold          float64  `yaml:"minThreshold"`
	MaxThreshold          float64  `yaml:"maxThreshold"`
	SmoothingFactor       float64  `yaml:"smoothingFactor"`
	CoordinationEnabled   bool     `yaml:"coordinationEnabled"`
	EmergencyEnabled      bool     `yaml:"emergencyEnabled"`
	BusinessAwareBreaking bool     `yaml:"businessAwareBreaking"`
	HealthCheckURL        string   `yaml:"healthCheckUrl"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:            ":8080",
		ShutdownTimeout:       Duration(15 * time.Second),
		LogLevel:              "info",
		LogFormat:             "json",
		LogOutput:             "stdout",
		RecalibrationInterval: Duration(30 * time.Second),
		ProbeInterval:         Duration(10 * time.Second),
		ProbeTimeout:          Duration(5 * time.Second),
		ProbeRatePerSecond:    10,
		CoordinationTimeout:   Duration(500 * time.Millisecond),
		EventBuffer:           256,
	}
}

// Validate checks the service-level settings and every breaker definition.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if c.RecalibrationInterval <= 0 {
		return fmt.Errorf("recalibrationInterval must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probeInterval must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is enabled")
	}

	seen := make(map[string]struct{}, len(c.Breakers))
	for i := range c.Breakers {
		spec := &c.Breakers[i]
		if _, ok := seen[spec.ID]; ok {
			return fmt.Errorf("duplicate breaker id %q", spec.ID)
		}
		seen[spec.ID] = struct{}{}

		if _, err := spec.ToBreakerConfig(); err != nil {
			return err
		}
	}

	return nil
}

// ToBreakerConfig converts the YAML spec into a validated breaker config.
func (s *BreakerSpec) ToBreakerConfig() (*breaker.Config, error) {
	tier, err := parseTier(s.BusinessImpactTier)
	if err != nil {
		return nil, fmt.Errorf("breaker %q: %w", s.ID, err)
	}

	cfg := breaker.DefaultConfig(s.ID, s.Name, s.SystemLayer)
	cfg.BusinessImpactTier = tier
	if s.Strategy != "" {
		cfg.Strategy = detector.Strategy(s.Strategy)
	}
	if s.FailureThreshold != 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.MinimumSamples != 0 {
		cfg.MinimumSamples = s.MinimumSamples
	}
	if s.WindowLength != 0 {
		cfg.WindowLength = s.WindowLength.Duration()
	}
	if s.OpenDuration != 0 {
		cfg.OpenDuration = s.OpenDuration.Duration()
	}
	if s.HalfOpenMaxProbes != 0 {
		cfg.HalfOpenMaxProbes = s.HalfOpenMaxProbes
	}
	if s.EmergencyDuration != 0 {
		cfg.EmergencyDuration = s.EmergencyDuration.Duration()
	}
	if s.SuccessThreshold != 0 {
		cfg.SuccessThreshold = s.SuccessThreshold
	}
	if s.MaxRetryAttempts != 0 {
		cfg.MaxRetryAttempts = s.MaxRetryAttempts
	}
	if s.BackoffMultiplier != 0 {
		cfg.BackoffMultiplier = s.BackoffMultiplier
	}
	cfg.AdaptiveEnabled = s.AdaptiveEnabled
	if s.MinThreshold != 0 {
		cfg.MinThreshold = s.MinThreshold
	}
	if s.MaxThreshold != 0 {
		cfg.MaxThreshold = s.MaxThreshold
	}
	if s.SmoothingFactor != 0 {
		cfg.SmoothingFactor = s.SmoothingFactor
	}
	cfg.CoordinationEnabled = s.CoordinationEnabled
	cfg.EmergencyEnabled = s.EmergencyEnabled
	cfg.BusinessAwareBreaking = s.BusinessAwareBreaking
	cfg.HealthCheckURL = s.HealthCheckURL

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseTier parses the YAML tier names. An empty string defaults to medium.
func parseTier(s string) (breaker.ImpactTier, error) {
	if s == "" {
		return breaker.TierMedium, nil
	}
	tier, ok := breaker.ParseImpactTier(s)
	if !ok {
		return 0, fmt.Errorf("unknown business impact tier %q", s)
	}
	return tier, nil
}
