// Package persistence provides the optional adapter that carries breaker
// configuration and last known state across process restarts. The core
// degrades gracefully without it: breakers start closed when no adapter is
// configured or the adapter is unavailable.
package persistence

import (
	"context"
	"time"

	"github.com/fleetops/failguard/internal/breaker"
)

// StateRecord is the persisted slice of one breaker's live state.
type StateRecord struct {
	State     string    `json:"state"`
	EnteredAt time.Time `json:"enteredAt"`
}

// Adapter loads and saves breaker configuration and state snapshots.
type Adapter interface {
	// SaveState persists the current state of one breaker.
	SaveState(ctx context.Context, breakerID string, rec StateRecord) error

	// LoadStates returns the last known state of every persisted breaker.
	LoadStates(ctx context.Context) (map[string]StateRecord, error)

	// SaveConfig persists one breaker configuration.
	SaveConfig(ctx context.Context, cfg *breaker.Config) error

	// LoadConfigs returns all persisted breaker configurations.
	LoadConfigs(ctx context.Context) ([]*breaker.Config, error)

	// Close releases adapter resources.
	Close() error
}

// Noop is the adapter used when persistence is disabled. Loads return
// nothing and saves succeed silently, which leaves every breaker at its
// default closed state.
type Noop struct{}

// SaveState implements Adapter.
func (Noop) SaveState(context.Context, string, StateRecord) error { return nil }

// LoadStates implements Adapter.
func (Noop) LoadStates(context.Context) (map[string]StateRecord, error) {
	return map[string]StateRecord{}, nil
}

// SaveConfig implements Adapter.
func (Noop) SaveConfig(context.Context, *breaker.Config) error { return nil }

// LoadConfigs implements Adapter.
func (Noop) LoadConfigs(context.Context) ([]*breaker.Config, error) { return nil, nil }

// Close implements Adapter.
func (Noop) Close() error { return nil }
