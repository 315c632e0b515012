package adaptive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/failguard/internal/breaker"
)

func adaptiveConfig(id string) *breaker.Config {
	cfg := breaker.DefaultConfig(id, id, "payment")
	cfg.AdaptiveEnabled = true
	cfg.MinimumSamples = 1000000 // keep the breaker closed while feeding outcomes
	cfg.MinThreshold = 0.1
	cfg.MaxThreshold = 0.9
	cfg.SmoothingFactor = 0.3
	return cfg
}

func TestEngine_AllFailuresTightensThreshold(t *testing.T) {
	store := breaker.NewStore()
	b, err := store.Register(adaptiveConfig("checkout"))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		b.RecordFailure(breaker.FailureContext{ImpactTier: breaker.TierLow})
	}

	engine := NewEngine(store)
	for i := 0; i < 20; i++ {
		engine.RunOnce(context.Background())
	}

	// A saturated failure rate pulls the effective threshold well under the
	// 0.5 baseline: 0.5 + 0.5*(0.5 - 1.0) = 0.25.
	assert.InDelta(t, 0.25, b.EffectiveThreshold(), 0.011)
}

func TestEngine_MinimumBoundClampsTightening(t *testing.T) {
	store := breaker.NewStore()
	cfg := adaptiveConfig("checkout")
	cfg.MinThreshold = 0.4
	b, err := store.Register(cfg)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		b.RecordFailure(breaker.FailureContext{ImpactTier: breaker.TierLow})
	}

	engine := NewEngine(store)
	for i := 0; i < 20; i++ {
		engine.RunOnce(context.Background())
	}

	// The raw recalibration lands at 0.25; the configured floor wins.
	assert.InDelta(t, 0.4, b.EffectiveThreshold(), 0.001)
}

func TestEngine_AllSuccessesRelaxesThreshold(t *testing.T) {
	store := breaker.NewStore()
	b, err := store.Register(adaptiveConfig("checkout"))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		b.RecordSuccess(time.Millisecond)
	}

	engine := NewEngine(store)
	engine.RunOnce(context.Background())

	// With a zero failure rate the raw value is baseline*1.5 = 0.75,
	// inside the [0.1, 0.9] bounds.
	assert.InDelta(t, 0.75, b.EffectiveThreshold(), 0.001)
}

func TestEngine_TightBoundsAlwaysRespected(t *testing.T) {
	store := breaker.NewStore()
	cfg := adaptiveConfig("checkout")
	cfg.MinThreshold = 0.4
	cfg.MaxThreshold = 0.6
	b, err := store.Register(cfg)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		b.RecordSuccess(time.Millisecond)
	}

	engine := NewEngine(store)
	engine.RunOnce(context.Background())
	assert.InDelta(t, 0.6, b.EffectiveThreshold(), 0.001)
}

func TestEngine_SmoothingDampensSpikes(t *testing.T) {
	store := breaker.NewStore()
	cfg := adaptiveConfig("checkout")
	cfg.WindowLength = 0 // use running counters directly
	b, err := store.Register(cfg)
	require.NoError(t, err)

	// Establish a calm history first
	for i := 0; i < 20; i++ {
		b.RecordSuccess(time.Millisecond)
	}
	engine := NewEngine(store)
	engine.RunOnce(context.Background())
	calm := b.EffectiveThreshold()

	// One burst of failures moves the threshold down, but smoothing keeps it
	// above the value a raw recalculation would produce.
	for i := 0; i < 20; i++ {
		b.RecordFailure(breaker.FailureContext{ImpactTier: breaker.TierLow})
	}
	engine.RunOnce(context.Background())
	afterSpike := b.EffectiveThreshold()

	assert.Less(t, afterSpike, calm)
	rawRate := 0.5 // 20 failures over 40 outcomes
	raw := 0.5 + 0.5*(0.5-rawRate)
	assert.Greater(t, afterSpike, raw)
}

func TestEngine_SkipsNonAdaptiveBreakers(t *testing.T) {
	store := breaker.NewStore()
	cfg := breaker.DefaultConfig("static", "static", "payment")
	cfg.MinimumSamples = 1000000
	b, err := store.Register(cfg)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		b.RecordFailure(breaker.FailureContext{ImpactTier: breaker.TierLow})
	}

	NewEngine(store).RunOnce(context.Background())
	assert.Zero(t, b.EffectiveThreshold())
}

func TestEngine_ForgetDropsSmoothingState(t *testing.T) {
	store := breaker.NewStore()
	b, err := store.Register(adaptiveConfig("checkout"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		b.RecordFailure(breaker.FailureContext{ImpactTier: breaker.TierLow})
	}

	engine := NewEngine(store)
	engine.RunOnce(context.Background())
	engine.Forget("checkout")

	// After forgetting, the next pass re-seeds from the current rate instead
	// of continuing the old series.
	engine.RunOnce(context.Background())
	assert.InDelta(t, 0.25, b.EffectiveThreshold(), 0.001)
}

func TestEngine_CancelledContextStopsPass(t *testing.T) {
	store := breaker.NewStore()
	b, err := store.Register(adaptiveConfig("checkout"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewEngine(store).RunOnce(ctx)

	assert.Zero(t, b.EffectiveThreshold())
}
