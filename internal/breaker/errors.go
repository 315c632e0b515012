package breaker

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known, stable conditions. Callers check these
// with errors.Is().
var (
	// ErrNotFound is returned when an operation references an unregistered
	// breaker id. It is always surfaced, never silently defaulted.
	ErrNotFound = errors.New("breaker not found")

	// ErrInvalidConfig is returned when registration or update violates a
	// configuration invariant. The change is rejected at the boundary,
	// never partially applied.
	ErrInvalidConfig = errors.New("invalid breaker configuration")

	// ErrAlreadyRegistered is returned when registering an id that exists.
	ErrAlreadyRegistered = errors.New("breaker already registered")

	// ErrDetectorFailure marks a failure-detection algorithm error. The
	// evaluation defaults to opening the breaker (fail safe toward denial).
	ErrDetectorFailure = errors.New("failure detector error")

	// ErrTransitionBlocked is returned when a requested transition cannot
	// apply because the breaker is under manual or emergency control.
	ErrTransitionBlocked = errors.New("transition blocked by current state")
)

// ConfigError describes a configuration invariant violation.
type ConfigError struct {
	BreakerID string
	Field     string
	Message   string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.BreakerID != "" {
		return fmt.Sprintf("breaker %q: invalid %s: %s", e.BreakerID, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is makes the error match ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func newConfigError(id, field, message string) *ConfigError {
	return &ConfigError{BreakerID: id, Field: field, Message: message}
}
