// Package adaptive recalibrates breaker failure thresholds from rolling
// failure-rate history. The engine runs as a periodic background job; each
// run is idempotent and side-effect-free beyond storing the recalibrated
// effective threshold on the breaker. The configured baseline threshold is
// never replaced, so operators always see both values.
package adaptive

import (
	"context"
	"sync"
	"time"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/observability"
)

// sensitivity scales how far a shift in the smoothed failure rate moves the
// effective threshold away from the baseline.
const sensitivity = 0.5

// Engine recalibrates effective thresholds for breakers with adaptive
// thresholds enabled.
type Engine struct {
	store  *breaker.Store
	logger observability.Logger
	now    func() time.Time

	mu       sync.Mutex
	smoothed map[string]float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the engine's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a recalibration engine over the given store.
func NewEngine(store *breaker.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		logger:   observability.NopLogger(),
		now:      time.Now,
		smoothed: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOnce performs one recalibration pass over every adaptive breaker.
// Scheduling is the caller's concern; tests call RunOnce directly instead
// of waiting on wall-clock timers.
func (e *Engine) RunOnce(ctx context.Context) {
	for _, b := range e.store.List() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cfg := b.Config()
		if !cfg.AdaptiveEnabled {
			continue
		}

		effective := e.recalibrate(b, cfg)
		b.SetEffectiveThreshold(effective)

		e.logger.Debug("effective threshold recalibrated",
			observability.String("breaker", cfg.ID),
			observability.Float64("baseline", cfg.FailureThreshold),
			observability.Float64("effective", effective),
		)
	}
}

// recalibrate computes the effective threshold for one breaker: an
// exponentially smoothed view of the recent failure rate, mapped around the
// baseline and clamped to the configured bounds. A noisy recent history
// tightens the threshold (the breaker opens sooner); a quiet one relaxes it
// toward the upper bound.
func (e *Engine) recalibrate(b *breaker.Breaker, cfg *breaker.Config) float64 {
	rate := e.recentFailureRate(b, cfg)

	e.mu.Lock()
	prev, ok := e.smoothed[cfg.ID]
	if !ok {
		prev = rate
	}
	smoothed := cfg.SmoothingFactor*rate + (1-cfg.SmoothingFactor)*prev
	e.smoothed[cfg.ID] = smoothed
	e.mu.Unlock()

	effective := cfg.FailureThreshold + sensitivity*(cfg.FailureThreshold-smoothed)
	return clamp(effective, cfg.MinThreshold, cfg.MaxThreshold)
}

// recentFailureRate derives the failure rate over the breaker's outcome
// window, falling back to the running counters when the window is empty.
func (e *Engine) recentFailureRate(b *breaker.Breaker, cfg *breaker.Config) float64 {
	snap := b.Snapshot()

	if cfg.WindowLength > 0 && len(snap.Window) > 0 {
		cutoff := e.now().Add(-cfg.WindowLength)
		var failures, total int
		for _, s := range snap.Window {
			if s.At.Before(cutoff) {
				continue
			}
			total++
			if !s.Success {
				failures++
			}
		}
		if total > 0 {
			return float64(failures) / float64(total)
		}
	}

	return snap.FailureRate
}

// Forget drops the smoothing state for a deregistered breaker.
func (e *Engine) Forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.smoothed, id)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
