package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/observability"
)

func testAdapter(t *testing.T) *RedisAdapter {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	adapter := NewRedisAdapterWithClient(client, observability.NopLogger())
	t.Cleanup(func() { _ = adapter.Close() })

	return adapter
}

func TestRedisAdapter_StateRoundTrip(t *testing.T) {
	adapter := testAdapter(t)
	ctx := context.Background()

	entered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, adapter.SaveState(ctx, "checkout", StateRecord{
		State:     "open",
		EnteredAt: entered,
	}))
	require.NoError(t, adapter.SaveState(ctx, "inventory", StateRecord{
		State:     "emergency",
		EnteredAt: entered.Add(time.Minute),
	}))

	states, err := adapter.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "open", states["checkout"].State)
	assert.True(t, entered.Equal(states["checkout"].EnteredAt))
	assert.Equal(t, "emergency", states["inventory"].State)
}

func TestRedisAdapter_SaveStateOverwrites(t *testing.T) {
	adapter := testAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.SaveState(ctx, "checkout", StateRecord{State: "open", EnteredAt: time.Now()}))
	require.NoError(t, adapter.SaveState(ctx, "checkout", StateRecord{State: "closed", EnteredAt: time.Now()}))

	states, err := adapter.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "closed", states["checkout"].State)
}

func TestRedisAdapter_ConfigRoundTrip(t *testing.T) {
	adapter := testAdapter(t)
	ctx := context.Background()

	cfg := breaker.DefaultConfig("checkout", "Checkout API", "payment")
	cfg.FailureThreshold = 0.35
	cfg.CoordinationEnabled = true
	require.NoError(t, adapter.SaveConfig(ctx, cfg))

	configs, err := adapter.LoadConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "checkout", configs[0].ID)
	assert.InDelta(t, 0.35, configs[0].FailureThreshold, 0.001)
	assert.True(t, configs[0].CoordinationEnabled)
	assert.Equal(t, cfg.OpenDuration, configs[0].OpenDuration)
}

func TestRedisAdapter_StateAndConfigShareKey(t *testing.T) {
	adapter := testAdapter(t)
	ctx := context.Background()

	cfg := breaker.DefaultConfig("checkout", "Checkout API", "payment")
	require.NoError(t, adapter.SaveConfig(ctx, cfg))
	require.NoError(t, adapter.SaveState(ctx, "checkout", StateRecord{State: "open", EnteredAt: time.Now()}))

	states, err := adapter.LoadStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 1)

	configs, err := adapter.LoadConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 1)
}

func TestRedisAdapter_LoadSkipsUndecodableConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	adapter := NewRedisAdapterWithClient(client, observability.NopLogger())
	t.Cleanup(func() { _ = adapter.Close() })
	ctx := context.Background()

	mr.HSet("failguard:breaker:garbage", "config", "{not json")
	require.NoError(t, adapter.SaveConfig(ctx, breaker.DefaultConfig("checkout", "Checkout API", "payment")))

	configs, err := adapter.LoadConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "checkout", configs[0].ID)
}

func TestRedisAdapter_GuardOpensOnRepeatedFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	adapter := NewRedisAdapterWithClient(client, observability.NopLogger())
	t.Cleanup(func() { _ = adapter.Close() })
	ctx := context.Background()

	// Take Redis away; the guard trips after consecutive failures and then
	// rejects immediately instead of dialing a dead endpoint.
	mr.Close()

	for i := 0; i < 5; i++ {
		assert.Error(t, adapter.SaveState(ctx, "checkout", StateRecord{State: "open", EnteredAt: time.Now()}))
	}

	err := adapter.SaveState(ctx, "checkout", StateRecord{State: "open", EnteredAt: time.Now()})
	assert.Error(t, err)
}

func TestNoopAdapter(t *testing.T) {
	var adapter Adapter = Noop{}
	ctx := context.Background()

	assert.NoError(t, adapter.SaveState(ctx, "checkout", StateRecord{}))
	assert.NoError(t, adapter.SaveConfig(ctx, breaker.DefaultConfig("checkout", "Checkout API", "payment")))

	states, err := adapter.LoadStates(ctx)
	assert.NoError(t, err)
	assert.Empty(t, states)

	configs, err := adapter.LoadConfigs(ctx)
	assert.NoError(t, err)
	assert.Empty(t, configs)

	assert.NoError(t, adapter.Close())
}
