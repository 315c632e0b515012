package coordination

import (
	"context"
	"time"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/observability"
)

// BreakerRecovery is the post-isolation status of one affected breaker.
type BreakerRecovery struct {
	BreakerID string        `json:"breakerId"`
	State     breaker.State `json:"state"`

	// Recovered is true when the breaker has since moved to half-open or
	// closed.
	Recovered bool `json:"recovered"`
}

// RecoveryReport is what a recovery monitor observed when it fired.
type RecoveryReport struct {
	CoordinationID   string            `json:"coordinationId"`
	TriggerBreakerID string            `json:"triggerBreakerId"`
	CheckedAt        time.Time         `json:"checkedAt"`
	Breakers         []BreakerRecovery `json:"breakers"`
}

// monitor is one pending recovery re-check.
type monitor struct {
	coordinationID string
	triggerID      string
	affected       []string
	cancel         context.CancelFunc
}

// scheduleMonitor arms a recovery monitor that re-checks the affected set
// after the estimated recovery interval. The monitor is cancellable: if the
// trigger breaker recovers on its own first, Watch tears it down.
func (o *Orchestrator) scheduleMonitor(coordinationID, triggerID string, affected []string, after time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{
		coordinationID: coordinationID,
		triggerID:      triggerID,
		affected:       affected,
		cancel:         cancel,
	}

	o.mu.Lock()
	o.monitors[coordinationID] = m
	o.byTrigger[triggerID] = append(o.byTrigger[triggerID], coordinationID)
	o.mu.Unlock()
	RecordActiveMonitors(1)

	timer := time.NewTimer(after)
	go func() {
		defer timer.Stop()
		defer o.removeMonitor(coordinationID, triggerID)

		select {
		case <-ctx.Done():
			o.logger.Info("recovery monitor cancelled, trigger recovered independently",
				observability.String("coordination", coordinationID),
				observability.String("trigger", triggerID),
			)
			return
		case <-timer.C:
			o.runRecoveryCheck(m)
		}
	}()
}

// runRecoveryCheck reports whether each affected breaker has moved on from
// the coordinated isolation.
func (o *Orchestrator) runRecoveryCheck(m *monitor) {
	report := RecoveryReport{
		CoordinationID:   m.coordinationID,
		TriggerBreakerID: m.triggerID,
		CheckedAt:        o.now(),
	}

	recovered := 0
	for _, id := range m.affected {
		b, err := o.store.Get(id)
		if err != nil {
			// Deregistered while isolated; nothing left to report on.
			continue
		}
		state := b.State()
		r := BreakerRecovery{
			BreakerID: id,
			State:     state,
			Recovered: state == breaker.StateHalfOpen || state == breaker.StateClosed,
		}
		if r.Recovered {
			recovered++
		}
		report.Breakers = append(report.Breakers, r)
	}

	o.logger.Info("coordinated recovery check complete",
		observability.String("coordination", m.coordinationID),
		observability.Int("affected", len(report.Breakers)),
		observability.Int("recovered", recovered),
	)

	select {
	case o.reports <- report:
	default:
		o.logger.Warn("recovery report dropped, channel full",
			observability.String("coordination", m.coordinationID),
		)
	}
}

// cancelForTrigger cancels every pending monitor scheduled for the trigger.
func (o *Orchestrator) cancelForTrigger(triggerID string) {
	o.mu.Lock()
	ids := o.byTrigger[triggerID]
	monitors := make([]*monitor, 0, len(ids))
	for _, id := range ids {
		if m, ok := o.monitors[id]; ok {
			monitors = append(monitors, m)
		}
	}
	o.mu.Unlock()

	for _, m := range monitors {
		m.cancel()
	}
}

// removeMonitor drops bookkeeping for a finished or cancelled monitor.
func (o *Orchestrator) removeMonitor(coordinationID, triggerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.monitors[coordinationID]; !ok {
		return
	}
	delete(o.monitors, coordinationID)

	ids := o.byTrigger[triggerID]
	for i, id := range ids {
		if id == coordinationID {
			o.byTrigger[triggerID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(o.byTrigger[triggerID]) == 0 {
		delete(o.byTrigger, triggerID)
	}
	RecordActiveMonitors(-1)
}
