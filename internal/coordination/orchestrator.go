// Package coordination implements cross-service coordinated isolation: when
// one failure threatens multiple system layers, the orchestrator opens the
// related breakers together, assembles a continuity plan, and schedules a
// cancellable recovery monitor. Coordination is best-effort eventual
// consistency across the affected set, never an atomic multi-breaker
// transaction.
package coordination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/events"
	"github.com/fleetops/failguard/internal/observability"
)

// Strategy is how the affected set is isolated.
type Strategy string

const (
	// StrategyParallel opens all affected breakers in one pass.
	StrategyParallel Strategy = "parallel"

	// StrategyStaged opens breakers ordered by business impact tier,
	// highest first. Chosen when the affected set spans multiple tiers.
	StrategyStaged Strategy = "staged"
)

// StepKind tags a continuity plan step.
type StepKind string

const (
	// StepIsolate is the isolation of one breaker.
	StepIsolate StepKind = "isolate"
	// StepFallback advises routing around an isolated breaker.
	StepFallback StepKind = "fallback"
	// StepMonitor is the scheduled recovery re-check of the affected set.
	StepMonitor StepKind = "monitor"
)

// Step is one ordered mitigation step in a continuity plan.
type Step struct {
	Kind        StepKind `json:"kind"`
	BreakerID   string   `json:"breakerId,omitempty"`
	Layer       string   `json:"layer,omitempty"`
	Description string   `json:"description"`
}

// SkippedBreaker records a breaker that did not transition, with the reason.
type SkippedBreaker struct {
	BreakerID string `json:"breakerId"`
	Reason    string `json:"reason"`
}

// Response is the result of one coordinated isolation event.
type Response struct {
	CoordinationID    string           `json:"coordinationId"`
	TriggerBreakerID  string           `json:"triggerBreakerId"`
	Strategy          Strategy         `json:"strategy"`
	AffectedBreakers  []string         `json:"affectedBreakers"`
	SkippedBreakers   []SkippedBreaker `json:"skippedBreakers,omitempty"`
	ContinuityPlan    []Step           `json:"continuityPlan"`
	EstimatedRecovery time.Time        `json:"estimatedRecovery"`

	// PartialFailure marks that one or more breakers in the affected set
	// could not transition. The response is still returned; the failed ids
	// are listed in SkippedBreakers rather than raised as an error.
	PartialFailure bool `json:"partialFailure"`
}

// DefaultPerBreakerTimeout bounds each individual breaker transition during
// a coordination fan-out.
const DefaultPerBreakerTimeout = 500 * time.Millisecond

// Orchestrator performs coordinated isolation over registered breakers. It
// never creates breakers; it only acts on those already in the store.
type Orchestrator struct {
	store             *breaker.Store
	logger            observability.Logger
	now               func() time.Time
	perBreakerTimeout time.Duration

	mu        sync.Mutex
	monitors  map[string]*monitor
	byTrigger map[string][]string

	reports chan RecoveryReport
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPerBreakerTimeout bounds each breaker transition attempt.
func WithPerBreakerTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.perBreakerTimeout = d }
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store *breaker.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:             store,
		logger:            observability.NopLogger(),
		now:               time.Now,
		perBreakerTimeout: DefaultPerBreakerTimeout,
		monitors:          make(map[string]*monitor),
		byTrigger:         make(map[string][]string),
		reports:           make(chan RecoveryReport, 16),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Coordinate opens every registered breaker whose system layer is in the
// affected set, best-effort. Breakers that cannot transition are recorded
// and reported, not raised; only an unknown trigger id is an error.
func (o *Orchestrator) Coordinate(ctx context.Context, triggerID string, affectedLayers []string) (*Response, error) {
	trigger, err := o.store.Get(triggerID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	coordinationID := uuid.NewString()
	candidates := o.store.ListByLayer(affectedLayers...)
	strategy := chooseStrategy(candidates)
	if strategy == StrategyStaged {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Config().BusinessImpactTier > candidates[j].Config().BusinessImpactTier
		})
	}

	reason := fmt.Sprintf("coordinated isolation %s triggered by breaker %q", coordinationID, triggerID)

	resp := &Response{
		CoordinationID:   coordinationID,
		TriggerBreakerID: triggerID,
		Strategy:         strategy,
	}

	var maxOpen time.Duration
	for _, b := range candidates {
		cfg := b.Config()

		if !cfg.CoordinationEnabled {
			resp.SkippedBreakers = append(resp.SkippedBreakers, SkippedBreaker{
				BreakerID: cfg.ID,
				Reason:    "cross-system coordination disabled",
			})
			continue
		}

		if err := o.tripWithTimeout(ctx, b, reason); err != nil {
			resp.SkippedBreakers = append(resp.SkippedBreakers, SkippedBreaker{
				BreakerID: cfg.ID,
				Reason:    err.Error(),
			})
			resp.PartialFailure = true
			RecordBreakerResult("skipped")
			continue
		}

		resp.AffectedBreakers = append(resp.AffectedBreakers, cfg.ID)
		resp.ContinuityPlan = append(resp.ContinuityPlan, Step{
			Kind:        StepIsolate,
			BreakerID:   cfg.ID,
			Layer:       cfg.SystemLayer,
			Description: fmt.Sprintf("isolate %s (%s layer) for %s", cfg.Name, cfg.SystemLayer, cfg.OpenDuration),
		})
		if cfg.BusinessAwareBreaking {
			resp.ContinuityPlan = append(resp.ContinuityPlan, Step{
				Kind:        StepFallback,
				BreakerID:   cfg.ID,
				Layer:       cfg.SystemLayer,
				Description: fmt.Sprintf("route revenue-impacting traffic for %s through cached or alternate path", cfg.Name),
			})
		}
		if cfg.OpenDuration > maxOpen {
			maxOpen = cfg.OpenDuration
		}
		RecordBreakerResult("opened")
	}

	if maxOpen == 0 {
		maxOpen = trigger.Config().OpenDuration
	}
	resp.EstimatedRecovery = now.Add(maxOpen)
	resp.ContinuityPlan = append(resp.ContinuityPlan, Step{
		Kind:        StepMonitor,
		Description: fmt.Sprintf("re-check %d affected breakers at %s", len(resp.AffectedBreakers), resp.EstimatedRecovery.Format(time.RFC3339)),
	})

	RecordCoordination(string(strategy), resp.PartialFailure)

	o.logger.Info("coordinated isolation executed",
		observability.String("coordination", coordinationID),
		observability.String("trigger", triggerID),
		observability.String("strategy", string(strategy)),
		observability.Strings("layers", affectedLayers),
		observability.Int("affected", len(resp.AffectedBreakers)),
		observability.Int("skipped", len(resp.SkippedBreakers)),
	)

	o.scheduleMonitor(coordinationID, triggerID, resp.AffectedBreakers, maxOpen)

	return resp, nil
}

// tripWithTimeout applies TripOpen bounded by the per-breaker timeout so one
// stuck breaker cannot stall the whole fan-out.
func (o *Orchestrator) tripWithTimeout(ctx context.Context, b *breaker.Breaker, reason string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, o.perBreakerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.TripOpen(reason) }()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return fmt.Errorf("transition timed out: %w", attemptCtx.Err())
	}
}

// chooseStrategy picks staged isolation when the affected set spans more
// than one business impact tier, parallel otherwise.
func chooseStrategy(candidates []*breaker.Breaker) Strategy {
	tiers := make(map[breaker.ImpactTier]struct{})
	for _, b := range candidates {
		tiers[b.Config().BusinessImpactTier] = struct{}{}
	}
	if len(tiers) > 1 {
		return StrategyStaged
	}
	return StrategyParallel
}

// Watch consumes the transition event stream and cancels pending recovery
// monitors when their trigger breaker independently recovers, avoiding
// duplicate recovery actions. It returns when the context is done or the
// stream closes.
func (o *Orchestrator) Watch(ctx context.Context, stream <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-stream:
			if !ok {
				return
			}
			if e.To == breaker.StateClosed.String() {
				o.cancelForTrigger(e.BreakerID)
			}
		}
	}
}

// Reports returns the channel recovery monitors deliver their reports on.
func (o *Orchestrator) Reports() <-chan RecoveryReport {
	return o.reports
}

// ActiveMonitors returns the number of pending recovery monitors.
func (o *Orchestrator) ActiveMonitors() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.monitors)
}

// Shutdown cancels all pending monitors.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	monitors := make([]*monitor, 0, len(o.monitors))
	for _, m := range o.monitors {
		monitors = append(monitors, m)
	}
	o.mu.Unlock()

	for _, m := range monitors {
		m.cancel()
	}
}
