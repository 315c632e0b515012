package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/failguard/internal/breaker"
)

func probeConfig(id, url string) *breaker.Config {
	cfg := breaker.DefaultConfig(id, id, "payment")
	cfg.MinimumSamples = 4
	cfg.SuccessThreshold = 2
	cfg.HalfOpenMaxProbes = 2
	cfg.HealthCheckURL = url
	return cfg
}

func openBreaker(t *testing.T, store *breaker.Store, cfg *breaker.Config) *breaker.Breaker {
	t.Helper()
	b, err := store.Register(cfg)
	require.NoError(t, err)
	require.NoError(t, b.TripOpen("test isolation"))
	return b
}

func TestProber_HealthySweepWalksBreakerToClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := breaker.NewStore()
	cfg := probeConfig("checkout", srv.URL)
	cfg.OpenDuration = time.Millisecond
	b := openBreaker(t, store, cfg)

	time.Sleep(5 * time.Millisecond) // let the open deadline pass

	p := NewProber(store, WithRateLimit(1000, 10))
	p.Sweep(context.Background()) // open -> half-open, first probe success
	p.Sweep(context.Background()) // second probe success closes

	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestProber_UnhealthyEndpointReopens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := breaker.NewStore()
	cfg := probeConfig("checkout", srv.URL)
	cfg.OpenDuration = time.Millisecond
	b := openBreaker(t, store, cfg)

	time.Sleep(5 * time.Millisecond)

	p := NewProber(store, WithRateLimit(1000, 10))
	p.Sweep(context.Background())

	// The failed probe re-opened the breaker through the normal protocol
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestProber_SkipsBreakersWithoutURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := breaker.NewStore()
	cfg := probeConfig("silent", "")
	cfg.OpenDuration = time.Millisecond
	openBreaker(t, store, cfg)

	time.Sleep(5 * time.Millisecond)

	NewProber(store).Sweep(context.Background())
	assert.Zero(t, hits.Load())
}

func TestProber_SkipsHealthyBreakers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := breaker.NewStore()
	_, err := store.Register(probeConfig("healthy", srv.URL))
	require.NoError(t, err)

	NewProber(store).Sweep(context.Background())
	assert.Zero(t, hits.Load())
}

func TestProber_RespectsOpenDeadline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := breaker.NewStore()
	cfg := probeConfig("checkout", srv.URL)
	cfg.OpenDuration = time.Hour
	b := openBreaker(t, store, cfg)

	NewProber(store).Sweep(context.Background())

	// The breaker denied the probe; nothing was recorded
	assert.Zero(t, hits.Load())
	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestProber_UnreachableEndpointCountsAsFailure(t *testing.T) {
	store := breaker.NewStore()
	cfg := probeConfig("checkout", "http://127.0.0.1:1/healthz")
	cfg.OpenDuration = time.Millisecond
	b := openBreaker(t, store, cfg)

	time.Sleep(5 * time.Millisecond)

	p := NewProber(store, WithTimeout(100*time.Millisecond))
	p.Sweep(context.Background())

	assert.Equal(t, breaker.StateOpen, b.State())
}

func TestProber_CancelledContextStopsSweep(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := breaker.NewStore()
	cfg := probeConfig("checkout", srv.URL)
	cfg.OpenDuration = time.Millisecond
	openBreaker(t, store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewProber(store).Sweep(ctx)

	assert.Zero(t, hits.Load())
}
