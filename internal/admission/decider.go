// Package admission is the per-request entry point to the failure isolation
// core. The Decider resolves a breaker by id and runs the admission and
// outcome-recording protocol against it. Decisions complete without any
// blocking I/O; all state they need is in memory.
package admission

import (
	"time"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/observability"
)

// Decider answers allow/deny decisions and records request outcomes.
type Decider struct {
	store  *breaker.Store
	logger observability.Logger
}

// NewDecider creates a Decider over the given store.
func NewDecider(store *breaker.Store, logger observability.Logger) *Decider {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Decider{store: store, logger: logger}
}

// ShouldAllowRequest returns the admission decision for one request against
// the identified breaker. An unknown id is surfaced as ErrNotFound, never
// silently defaulted to allow.
func (d *Decider) ShouldAllowRequest(breakerID string, reqCtx breaker.RequestContext) (breaker.Decision, error) {
	b, err := d.store.Get(breakerID)
	if err != nil {
		return breaker.Decision{}, err
	}

	decision := b.Admit(reqCtx)

	if !decision.Allowed {
		d.logger.Debug("request denied",
			observability.String("breaker", breakerID),
			observability.String("state", decision.State.String()),
			observability.String("reason", decision.Reason),
		)
	}

	return decision, nil
}

// RecordSuccess reports a successful request outcome.
func (d *Decider) RecordSuccess(breakerID string, latency time.Duration) error {
	b, err := d.store.Get(breakerID)
	if err != nil {
		return err
	}
	b.RecordSuccess(latency)
	return nil
}

// RecordFailure reports a failed request outcome together with its business
// context. A critical-tier failure escalates the breaker immediately when
// emergency escalation is enabled.
func (d *Decider) RecordFailure(breakerID string, fctx breaker.FailureContext) error {
	b, err := d.store.Get(breakerID)
	if err != nil {
		return err
	}
	b.RecordFailure(fctx)
	return nil
}

// GetStatus returns the monitoring view of one breaker.
func (d *Decider) GetStatus(breakerID string) (breaker.Status, error) {
	b, err := d.store.Get(breakerID)
	if err != nil {
		return breaker.Status{}, err
	}
	return b.Status(), nil
}
