// Package breaker implements the per-breaker circuit state machine, the
// breaker store and the metrics each breaker owns. A breaker guards one
// dependency: it admits or denies requests based on its state, records
// request outcomes, and transitions between states according to its
// configured failure-detection strategy.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetops/failguard/internal/detector"
	"github.com/fleetops/failguard/internal/events"
	"github.com/fleetops/failguard/internal/observability"
)

// tracer records state transitions as span events in distributed traces.
var tracer = otel.Tracer("failguard/breaker")

// Breaker is a single circuit breaker. All mutations of its metrics and
// state happen under one per-breaker mutex; breakers never share locks, so
// unrelated breakers do not contend.
type Breaker struct {
	mu     sync.Mutex
	config *Config
	det    detector.Detector
	logger observability.Logger
	bus    *events.Bus
	now    func() time.Time

	state          State
	stateEnteredAt time.Time

	failures             int
	successes            int
	total                int
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenProbes       int

	lastFailure time.Time
	lastSuccess time.Time

	forceOpenUntil time.Time
	valueAtRisk    float64

	// effectiveThreshold is owned by the adaptive engine; zero means the
	// engine has not recalibrated yet.
	effectiveThreshold float64

	window  []detector.Sample
	history []Transition
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the breaker's logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// WithBus sets the transition event bus.
func WithBus(bus *events.Bus) Option {
	return func(b *Breaker) { b.bus = bus }
}

// WithClock overrides the breaker's time source. Tests use this to drive
// virtual time instead of sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithDetector overrides the detector derived from the configured strategy.
// Used to install an external anomaly evaluator.
func WithDetector(d detector.Detector) Option {
	return func(b *Breaker) { b.det = d }
}

// New creates a breaker from a validated config.
func New(cfg *Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	det, err := detector.ForStrategy(cfg.Strategy)
	if err != nil {
		return nil, newConfigError(cfg.ID, "strategy", err.Error())
	}

	b := &Breaker{
		config: cfg,
		det:    det,
		logger: observability.NopLogger(),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.stateEnteredAt = b.now()

	RecordState(cfg.ID, StateClosed)

	return b, nil
}

// Config returns the current configuration.
func (b *Breaker) Config() *Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// ID returns the breaker id.
func (b *Breaker) ID() string {
	return b.Config().ID
}

// State returns the current state, applying any pending force-open
// auto-revert first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeAutoRevert(b.now())
	return b.state
}

// Admit decides whether a request may proceed. It is the shouldAllowRequest
// entry point: read-only for the caller beyond internal housekeeping
// (lazily applied timeout transitions and half-open probe accounting).
func (b *Breaker) Admit(reqCtx RequestContext) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.maybeAutoRevert(now)

	var d Decision
	switch b.state {
	case StateClosed:
		d = b.admitClosed(now)
	case StateOpen:
		d = b.admitOpen(now, reqCtx)
	case StateHalfOpen:
		d = b.admitHalfOpen()
	case StateForceOpen:
		d = Decision{
			State:  StateForceOpen,
			Reason: "manually forced open by operator override",
		}
	case StateEmergency:
		d = Decision{
			State:              StateEmergency,
			Reason:             "emergency isolation active, external escalation required",
			EscalationRequired: true,
		}
		if b.config.EmergencyDuration > 0 {
			d.EstimatedRecovery = b.stateEnteredAt.Add(b.config.EmergencyDuration)
		}
	}

	d.FailureRate = b.failureRate()
	d.Threshold = b.thresholdInUse()
	if d.Allowed && d.Confidence == 0 {
		d.Confidence = 1.0
	}

	RecordDecision(b.config.ID, d.Allowed)

	return d
}

func (b *Breaker) admitClosed(now time.Time) Decision {
	// The detector is also consulted on the admission path so a breaker
	// whose window already crossed the threshold opens on the very next
	// decision, not only on the next recorded outcome.
	if v := b.evaluateDetector(now); v.Open {
		b.transitionTo(StateOpen, v.Reason, now)
		return Decision{
			State:             StateOpen,
			Reason:            v.Reason,
			EstimatedRecovery: b.stateEnteredAt.Add(b.config.OpenDuration),
		}
	}
	return Decision{
		Allowed: true,
		State:   StateClosed,
		Reason:  "circuit closed",
	}
}

func (b *Breaker) admitOpen(now time.Time, reqCtx RequestContext) Decision {
	deadline := b.stateEnteredAt.Add(b.config.OpenDuration)

	if !now.Before(deadline) {
		// Counters reset on entry to half-open so the probe window is
		// judged on its own.
		b.transitionTo(StateHalfOpen, "open duration elapsed, probing recovery", now)
		b.halfOpenProbes = 1
		return Decision{
			Allowed: true,
			State:   StateHalfOpen,
			Reason:  "probe request after open timeout",
		}
	}

	if reqCtx.RevenueImpacting && b.config.BusinessAwareBreaking {
		return Decision{
			Allowed:      true,
			State:        StateOpen,
			Reason:       "business-aware override: revenue-impacting request allowed through open circuit",
			FallbackHint: "prefer cached or alternate path; outcome still counts against this breaker",
			Confidence:   0.5,
		}
	}

	return Decision{
		State:             StateOpen,
		Reason:            "circuit open",
		EstimatedRecovery: deadline,
	}
}

func (b *Breaker) admitHalfOpen() Decision {
	if b.halfOpenProbes < b.config.HalfOpenMaxProbes {
		b.halfOpenProbes++
		return Decision{
			Allowed: true,
			State:   StateHalfOpen,
			Reason:  fmt.Sprintf("probe %d of %d", b.halfOpenProbes, b.config.HalfOpenMaxProbes),
		}
	}
	return Decision{
		State:  StateHalfOpen,
		Reason: "probe quota exhausted, waiting for probe outcomes",
	}
}

// RecordSuccess records a successful request outcome.
func (b *Breaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.maybeAutoRevert(now)

	b.successes++
	b.total++
	b.consecutiveSuccesses++
	b.consecutiveFailures = 0
	b.lastSuccess = now
	b.appendSample(detector.Sample{At: now, Success: true})

	RecordSuccess(b.config.ID)
	ObserveLatency(b.config.ID, latency)

	switch b.state {
	case StateHalfOpen:
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed, fmt.Sprintf("%d consecutive probe successes", b.consecutiveSuccesses), now)
		}
	case StateClosed:
		if v := b.evaluateDetector(now); v.Open {
			b.transitionTo(StateOpen, v.Reason, now)
		}
	}
}

// RecordFailure records a failed request outcome. The caller-supplied
// business impact accumulates into the value-at-risk counter, and a
// critical-tier failure escalates to emergency immediately when enabled,
// without waiting for the failure-ratio test.
func (b *Breaker) RecordFailure(fctx FailureContext) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.maybeAutoRevert(now)

	b.failures++
	b.total++
	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.lastFailure = now
	b.valueAtRisk += fctx.EstimatedValueAtRisk
	b.appendSample(detector.Sample{At: now, Success: false})

	RecordFailure(b.config.ID)
	RecordValueAtRisk(b.config.ID, b.valueAtRisk)

	if b.config.EmergencyEnabled && fctx.ImpactTier >= TierCritical &&
		b.state != StateEmergency && b.state != StateForceOpen {
		reason := "critical business impact: " + fctx.Reason
		if fctx.Reason == "" {
			reason = "critical business impact failure"
		}
		b.transitionTo(StateEmergency, reason, now)
		return
	}

	switch b.state {
	case StateHalfOpen:
		// First probe failure reopens immediately and restarts the open
		// duration clock.
		b.transitionTo(StateOpen, "probe failed during half-open window", now)
	case StateClosed:
		if v := b.evaluateDetector(now); v.Open {
			b.transitionTo(StateOpen, v.Reason, now)
		}
	}
}

// TripOpen transitions the breaker to open on behalf of a coordinated
// isolation response. Breakers under manual or emergency control are not
// touched; an already-open breaker is left as is.
func (b *Breaker) TripOpen(reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateForceOpen, StateEmergency:
		return fmt.Errorf("breaker %q is %s: %w", b.config.ID, b.state, ErrTransitionBlocked)
	case StateOpen:
		return nil
	default:
		b.transitionTo(StateOpen, reason, b.now())
		return nil
	}
}

// ForceOpen forces the breaker open until Revert is called. A positive
// autoRevert arms a deadline after which the next operation reverts the
// breaker to closed automatically.
func (b *Breaker) ForceOpen(autoRevert time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if autoRevert > 0 {
		b.forceOpenUntil = now.Add(autoRevert)
	} else {
		b.forceOpenUntil = time.Time{}
	}
	if b.state != StateForceOpen {
		b.transitionTo(StateForceOpen, "operator forced open", now)
	}
}

// Emergency escalates the breaker to emergency state on an explicit
// external signal.
func (b *Breaker) Emergency(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateEmergency {
		return
	}
	b.transitionTo(StateEmergency, reason, b.now())
}

// Revert exits force-open or emergency back to closed. It is the explicit
// external recovery signal those states require.
func (b *Breaker) Revert() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateForceOpen && b.state != StateEmergency {
		return fmt.Errorf("breaker %q is %s, nothing to revert: %w", b.config.ID, b.state, ErrTransitionBlocked)
	}
	b.forceOpenUntil = time.Time{}
	b.transitionTo(StateClosed, "operator reverted manual isolation", b.now())
	return nil
}

// Reset is the explicit operator reset: closed state, all counters zero.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.forceOpenUntil = time.Time{}
	if b.state != StateClosed {
		b.transitionTo(StateClosed, "operator reset", b.now())
		return
	}
	b.resetCounters()
	b.logger.Info("breaker reset", observability.String("breaker", b.config.ID))
}

// RestoreState applies a persisted state at startup. Half-open does not
// survive a restart; it restores as open so the probe window starts fresh.
func (b *Breaker) RestoreState(state State, enteredAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state == StateHalfOpen {
		state = StateOpen
	}
	if state == b.state {
		return
	}
	b.state = state
	if !enteredAt.IsZero() {
		b.stateEnteredAt = enteredAt
	} else {
		b.stateEnteredAt = b.now()
	}
	RecordState(b.config.ID, state)
	b.logger.Info("breaker state restored from persistence",
		observability.String("breaker", b.config.ID),
		observability.String("state", state.String()),
	)
}

// SetEffectiveThreshold stores the adaptive engine's recalibrated
// threshold. It never replaces the configured baseline.
func (b *Breaker) SetEffectiveThreshold(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.effectiveThreshold = v
	RecordEffectiveThreshold(b.config.ID, v)
}

// EffectiveThreshold returns the last recalibrated threshold, zero if none.
func (b *Breaker) EffectiveThreshold() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveThreshold
}

// Snapshot returns a consistent copy of the breaker's metrics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := make([]detector.Sample, len(b.window))
	copy(window, b.window)
	history := make([]Transition, len(b.history))
	copy(history, b.history)

	return Snapshot{
		State:                b.state,
		Failures:             b.failures,
		Successes:            b.successes,
		Total:                b.total,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		FailureRate:          b.failureRate(),
		LastFailure:          b.lastFailure,
		LastSuccess:          b.lastSuccess,
		StateEnteredAt:       b.stateEnteredAt,
		HalfOpenProbes:       b.halfOpenProbes,
		EffectiveThreshold:   b.effectiveThreshold,
		ValueAtRisk:          b.valueAtRisk,
		Window:               window,
		History:              history,
	}
}

// Status returns the monitoring view: config, metrics and a health summary.
func (b *Breaker) Status() Status {
	snap := b.Snapshot()
	cfg := b.Config()

	var summary string
	switch snap.State {
	case StateClosed:
		summary = "healthy"
	case StateHalfOpen:
		summary = "recovering"
	case StateOpen:
		summary = "isolated"
	case StateForceOpen:
		summary = "isolated by operator"
	case StateEmergency:
		summary = "emergency isolation, escalation required"
	}

	return Status{Config: cfg, Metrics: snap, HealthSummary: summary}
}

// setConfig swaps the configuration atomically. Callers validate first.
func (b *Breaker) setConfig(cfg *Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
}

// maybeAutoRevert applies an armed force-open auto-revert deadline.
// Caller holds the lock.
func (b *Breaker) maybeAutoRevert(now time.Time) {
	if b.state == StateForceOpen && !b.forceOpenUntil.IsZero() && !now.Before(b.forceOpenUntil) {
		b.forceOpenUntil = time.Time{}
		b.transitionTo(StateClosed, "force-open duration elapsed", now)
	}
}

// evaluateDetector runs the configured detector against a snapshot of the
// current metrics. A detector error or panic is recovered and treated as a
// vote to open the breaker: the safe default is denial, not silent
// availability. Caller holds the lock.
func (b *Breaker) evaluateDetector(now time.Time) (verdict detector.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			RecordDetectorFailure(b.config.ID)
			b.logger.Error("failure detector panicked, failing safe toward open",
				observability.String("breaker", b.config.ID),
				observability.String("strategy", string(b.config.Strategy)),
				observability.Any("panic", r),
			)
			verdict = detector.Verdict{Open: true, Reason: fmt.Sprintf("detector failure (panic: %v), failing safe", r)}
		}
	}()

	in := detector.Input{
		FailureThreshold:   b.config.FailureThreshold,
		EffectiveThreshold: b.effectiveThreshold,
		MinimumSamples:     b.config.MinimumSamples,
		WindowLength:       b.config.WindowLength,
		Failures:           b.failures,
		Total:              b.total,
		Window:             b.window,
		Now:                now,
	}

	v, err := b.det.Evaluate(in)
	if err != nil {
		RecordDetectorFailure(b.config.ID)
		b.logger.Error("failure detector error, failing safe toward open",
			observability.String("breaker", b.config.ID),
			observability.String("strategy", string(b.config.Strategy)),
			observability.Error(fmt.Errorf("%w: %w", ErrDetectorFailure, err)),
		)
		return detector.Verdict{Open: true, Reason: "detector failure: " + err.Error() + ", failing safe"}
	}
	return v
}

// transitionTo applies a state change, appends the audit record, publishes
// the transition event and records metrics. Caller holds the lock.
func (b *Breaker) transitionTo(to State, reason string, now time.Time) {
	from := b.state
	if from == to {
		return
	}

	record := Transition{
		From:        from,
		To:          to,
		At:          now,
		Reason:      reason,
		Failures:    b.failures,
		Successes:   b.successes,
		Total:       b.total,
		FailureRate: b.failureRate(),
	}

	b.state = to
	b.stateEnteredAt = now

	// Counter reset rules: entering half-open isolates the probe window;
	// closing from half-open (or any operator-driven return to closed)
	// starts a clean evaluation window. Closed->open keeps the counters
	// that tripped the breaker visible for diagnostics.
	switch to {
	case StateHalfOpen:
		b.resetCounters()
	case StateClosed:
		b.resetCounters()
		b.valueAtRisk = 0
		RecordValueAtRisk(b.config.ID, 0)
	}

	b.history = append(b.history, record)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}

	RecordTransition(b.config.ID, from, to)

	b.logger.Info("breaker state changed",
		observability.String("breaker", b.config.ID),
		observability.String("layer", b.config.SystemLayer),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
		observability.String("reason", reason),
	)

	// Span event so the transition shows up in traces that triggered it.
	_, span := tracer.Start(context.Background(), "breaker.state_change",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.AddEvent("state_change", trace.WithAttributes(
		attribute.String("breaker.id", b.config.ID),
		attribute.String("breaker.from", from.String()),
		attribute.String("breaker.to", to.String()),
		attribute.String("breaker.reason", reason),
	))
	span.End()

	if b.bus != nil {
		b.bus.Publish(events.Event{
			BreakerID:   b.config.ID,
			BreakerName: b.config.Name,
			SystemLayer: b.config.SystemLayer,
			From:        from.String(),
			To:          to.String(),
			Reason:      reason,
			At:          now,
			Failures:    record.Failures,
			Successes:   record.Successes,
			Total:       record.Total,
			FailureRate: record.FailureRate,
		})
	}
}

// resetCounters zeroes the evaluation-window counters. Caller holds the lock.
func (b *Breaker) resetCounters() {
	b.failures = 0
	b.successes = 0
	b.total = 0
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenProbes = 0
	b.window = b.window[:0]
}

// appendSample adds an outcome to the bounded window, pruning samples older
// than the configured window length. Caller holds the lock.
func (b *Breaker) appendSample(s detector.Sample) {
	if b.config.WindowLength > 0 {
		cutoff := s.At.Add(-b.config.WindowLength)
		trimmed := b.window
		for len(trimmed) > 0 && trimmed[0].At.Before(cutoff) {
			trimmed = trimmed[1:]
		}
		b.window = trimmed
	}
	b.window = append(b.window, s)
	if len(b.window) > maxWindowSamples {
		b.window = b.window[len(b.window)-maxWindowSamples:]
	}
}

func (b *Breaker) failureRate() float64 {
	if b.total == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.total)
}

// thresholdInUse returns the threshold decisions are compared against:
// the effective adaptive value when the strategy uses one, the configured
// baseline otherwise. Caller holds the lock.
func (b *Breaker) thresholdInUse() float64 {
	if b.config.Strategy == detector.StrategyAdaptive && b.effectiveThreshold > 0 {
		return b.effectiveThreshold
	}
	return b.config.FailureThreshold
}
