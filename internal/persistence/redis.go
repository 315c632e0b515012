package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/observability"
)

const (
	keyPrefix = "failguard:breaker:"

	fieldState     = "state"
	fieldEnteredAt = "entered_at"
	fieldConfig    = "config"
)

// RedisAdapter persists breaker snapshots in Redis hashes, one per breaker.
// Every Redis call runs through its own circuit breaker so a degraded Redis
// cannot stall or cascade into the isolation core it serves.
type RedisAdapter struct {
	client *redis.Client
	guard  *gobreaker.CircuitBreaker
	logger observability.Logger
}

// RedisOptions configures the Redis adapter.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisAdapter creates a Redis-backed adapter.
func NewRedisAdapter(opts RedisOptions, logger observability.Logger) *RedisAdapter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	guard := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "persistence-redis",
		MaxRequests: 3,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("persistence guard state changed",
				observability.String("guard", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return &RedisAdapter{client: client, guard: guard, logger: logger}
}

// NewRedisAdapterWithClient wraps an existing client, used by tests.
func NewRedisAdapterWithClient(client *redis.Client, logger observability.Logger) *RedisAdapter {
	a := NewRedisAdapter(RedisOptions{}, logger)
	_ = a.client.Close()
	a.client = client
	return a
}

// SaveState implements Adapter.
func (a *RedisAdapter) SaveState(ctx context.Context, breakerID string, rec StateRecord) error {
	_, err := a.guard.Execute(func() (any, error) {
		return nil, a.client.HSet(ctx, keyPrefix+breakerID,
			fieldState, rec.State,
			fieldEnteredAt, rec.EnteredAt.Format(time.RFC3339Nano),
		).Err()
	})
	if err != nil {
		return fmt.Errorf("saving state for breaker %q: %w", breakerID, err)
	}
	return nil
}

// LoadStates implements Adapter.
func (a *RedisAdapter) LoadStates(ctx context.Context) (map[string]StateRecord, error) {
	result, err := a.guard.Execute(func() (any, error) {
		states := make(map[string]StateRecord)

		iter := a.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			fields, err := a.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, err
			}
			if fields[fieldState] == "" {
				continue
			}

			rec := StateRecord{State: fields[fieldState]}
			if raw := fields[fieldEnteredAt]; raw != "" {
				if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
					rec.EnteredAt = t
				}
			}
			states[key[len(keyPrefix):]] = rec
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return states, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading persisted states: %w", err)
	}
	return result.(map[string]StateRecord), nil
}

// SaveConfig implements Adapter.
func (a *RedisAdapter) SaveConfig(ctx context.Context, cfg *breaker.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config for breaker %q: %w", cfg.ID, err)
	}

	_, err = a.guard.Execute(func() (any, error) {
		return nil, a.client.HSet(ctx, keyPrefix+cfg.ID, fieldConfig, raw).Err()
	})
	if err != nil {
		return fmt.Errorf("saving config for breaker %q: %w", cfg.ID, err)
	}
	return nil
}

// LoadConfigs implements Adapter.
func (a *RedisAdapter) LoadConfigs(ctx context.Context) ([]*breaker.Config, error) {
	result, err := a.guard.Execute(func() (any, error) {
		var configs []*breaker.Config

		iter := a.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			raw, err := a.client.HGet(ctx, iter.Val(), fieldConfig).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, err
			}

			var cfg breaker.Config
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				a.logger.Warn("skipping undecodable persisted config",
					observability.String("key", iter.Val()),
					observability.Error(err),
				)
				continue
			}
			configs = append(configs, &cfg)
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return configs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading persisted configs: %w", err)
	}
	return result.([]*breaker.Config), nil
}

// Close implements Adapter.
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
