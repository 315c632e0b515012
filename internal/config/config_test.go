package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/detector"
)

const sampleYAML = `
listenAddr: ":9090"
logLevel: debug
recalibrationInterval: 45s
probeInterval: 20s
coordinationTimeout: 250ms

redis:
  enabled: true
  addr: "localhost:6379"
  db: 2

breakers:
  - id: checkout
    name: Checkout API
    systemLayer: payment
    businessImpactTier: critical
    strategy: sliding_window
    failureThreshold: 0.4
    minimumSamples: 20
    windowLength: 2m
    openDuration: 45s
    successThreshold: 5
    coordinationEnabled: true
    emergencyEnabled: true
    businessAwareBreaking: true
    healthCheckUrl: "http://checkout.internal/healthz"
  - id: search
    name: Search API
    systemLayer: search
`

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.RecalibrationInterval.Duration())
	assert.Equal(t, 250*time.Millisecond, cfg.CoordinationTimeout.Duration())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2, cfg.Redis.DB)
	require.Len(t, cfg.Breakers, 2)

	// Unset fields keep defaults
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval.Duration())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestBreakerSpec_ToBreakerConfig(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	bc, err := cfg.Breakers[0].ToBreakerConfig()
	require.NoError(t, err)

	assert.Equal(t, "checkout", bc.ID)
	assert.Equal(t, breaker.TierCritical, bc.BusinessImpactTier)
	assert.Equal(t, detector.StrategySlidingWindow, bc.Strategy)
	assert.InDelta(t, 0.4, bc.FailureThreshold, 0.001)
	assert.Equal(t, 2*time.Minute, bc.WindowLength)
	assert.Equal(t, 45*time.Second, bc.OpenDuration)
	assert.Equal(t, 5, bc.SuccessThreshold)
	assert.True(t, bc.CoordinationEnabled)
	assert.True(t, bc.EmergencyEnabled)
	assert.True(t, bc.BusinessAwareBreaking)
	assert.Equal(t, "http://checkout.internal/healthz", bc.HealthCheckURL)
}

func TestBreakerSpec_DefaultsApplied(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	bc, err := cfg.Breakers[1].ToBreakerConfig()
	require.NoError(t, err)

	assert.Equal(t, breaker.TierMedium, bc.BusinessImpactTier)
	assert.Equal(t, detector.StrategySimpleThreshold, bc.Strategy)
	assert.InDelta(t, 0.5, bc.FailureThreshold, 0.001)
	assert.Equal(t, 30*time.Second, bc.OpenDuration)
}

func TestConfig_ValidateRejectsDuplicateBreakers(t *testing.T) {
	yaml := `
breakers:
  - id: checkout
    name: Checkout API
    systemLayer: payment
  - id: checkout
    name: Checkout Again
    systemLayer: payment
`
	_, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate breaker id")
}

func TestConfig_ValidateRejectsUnknownTier(t *testing.T) {
	yaml := `
breakers:
  - id: checkout
    name: Checkout API
    systemLayer: payment
    businessImpactTier: catastrophic
`
	_, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown business impact tier")
}

func TestConfig_ValidateRejectsInvalidBreaker(t *testing.T) {
	yaml := `
breakers:
  - id: checkout
    name: Checkout API
    systemLayer: payment
    failureThreshold: 2.0
`
	_, err := LoadConfigFromReader(strings.NewReader(yaml))
	assert.ErrorIs(t, err, breaker.ErrInvalidConfig)
}

func TestConfig_RedisEnabledRequiresAddr(t *testing.T) {
	yaml := `
redis:
  enabled: true
`
	_, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestLoadConfig_EnvSubstitution(t *testing.T) {
	t.Setenv("FG_TEST_ADDR", ":7070")

	yaml := `
listenAddr: "${FG_TEST_ADDR}"
logLevel: "${FG_TEST_MISSING:-warn}"
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
}
