package breaker

import (
	"fmt"
	"sync"

	"github.com/fleetops/failguard/internal/events"
	"github.com/fleetops/failguard/internal/observability"
)

// Store owns the set of registered breakers. It is the single source of
// truth for breaker configuration and live metrics. Lookup is lock-free via
// sync.Map; per-breaker atomicity lives inside each Breaker, so unrelated
// breakers never contend on a shared lock.
type Store struct {
	breakers sync.Map
	logger   observability.Logger
	bus      *events.Bus
	opts     []Option
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger passed to created breakers.
func WithStoreLogger(logger observability.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithStoreBus sets the transition event bus passed to created breakers.
func WithStoreBus(bus *events.Bus) StoreOption {
	return func(s *Store) { s.bus = bus }
}

// WithBreakerOptions appends extra options applied to every created breaker.
func WithBreakerOptions(opts ...Option) StoreOption {
	return func(s *Store) { s.opts = append(s.opts, opts...) }
}

// NewStore creates an empty breaker store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates the config and creates a breaker in closed state with
// zero counters. Registering an existing id fails.
func (s *Store) Register(cfg *Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := append([]Option{WithLogger(s.logger), WithBus(s.bus)}, s.opts...)
	b, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if _, loaded := s.breakers.LoadOrStore(cfg.ID, b); loaded {
		return nil, fmt.Errorf("breaker %q: %w", cfg.ID, ErrAlreadyRegistered)
	}

	s.logger.Info("breaker registered",
		observability.String("breaker", cfg.ID),
		observability.String("layer", cfg.SystemLayer),
		observability.String("strategy", string(cfg.Strategy)),
	)

	return b, nil
}

// Get returns the breaker for the given id.
func (s *Store) Get(id string) (*Breaker, error) {
	value, ok := s.breakers.Load(id)
	if !ok {
		return nil, fmt.Errorf("breaker %q: %w", id, ErrNotFound)
	}
	return value.(*Breaker), nil
}

// Update re-validates the new config and swaps it in atomically. Identity
// cannot change; live metrics and state are preserved.
func (s *Store) Update(id string, cfg *Config) error {
	b, err := s.Get(id)
	if err != nil {
		return err
	}
	if cfg.ID != id {
		return newConfigError(id, "id", "cannot change breaker id on update")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.setConfig(cfg)
	s.logger.Info("breaker configuration updated", observability.String("breaker", id))
	return nil
}

// Deregister removes a breaker. There is no automatic expiry; this is the
// only way a breaker is destroyed.
func (s *Store) Deregister(id string) error {
	if _, ok := s.breakers.Load(id); !ok {
		return fmt.Errorf("breaker %q: %w", id, ErrNotFound)
	}
	s.breakers.Delete(id)
	s.logger.Info("breaker deregistered", observability.String("breaker", id))
	return nil
}

// List returns all registered breakers.
func (s *Store) List() []*Breaker {
	var breakers []*Breaker
	s.breakers.Range(func(_, value any) bool {
		breakers = append(breakers, value.(*Breaker))
		return true
	})
	return breakers
}

// ListByLayer returns all breakers whose system layer is in the given set.
func (s *Store) ListByLayer(layers ...string) []*Breaker {
	set := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		set[l] = struct{}{}
	}

	var breakers []*Breaker
	s.breakers.Range(func(_, value any) bool {
		b := value.(*Breaker)
		if _, ok := set[b.Config().SystemLayer]; ok {
			breakers = append(breakers, b)
		}
		return true
	})
	return breakers
}

// Count returns the number of registered breakers.
func (s *Store) Count() int {
	count := 0
	s.breakers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Statuses returns the monitoring view of every breaker, keyed by id.
func (s *Store) Statuses() map[string]Status {
	statuses := make(map[string]Status)
	s.breakers.Range(func(key, value any) bool {
		statuses[key.(string)] = value.(*Breaker).Status()
		return true
	})
	return statuses
}
