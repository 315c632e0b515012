package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/failguard/internal/admission"
	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/config"
	"github.com/fleetops/failguard/internal/coordination"
	"github.com/fleetops/failguard/internal/observability"
	"github.com/fleetops/failguard/internal/persistence"
)

func testApplication(t *testing.T) *application {
	t.Helper()

	cfg := config.DefaultConfig()
	logger := observability.NopLogger()
	store := breaker.NewStore()

	app := &application{
		config:       cfg,
		store:        store,
		decider:      admission.NewDecider(store, logger),
		orchestrator: coordination.NewOrchestrator(store),
		adapter:      persistence.Noop{},
	}
	app.server = newServer(app, logger)
	t.Cleanup(app.orchestrator.Shutdown)

	return app
}

func registerTestBreaker(t *testing.T, app *application, id string) *breaker.Breaker {
	t.Helper()
	cfg := breaker.DefaultConfig(id, id, "payment")
	cfg.MinimumSamples = 4
	cfg.CoordinationEnabled = true
	b, err := app.store.Register(cfg)
	require.NoError(t, err)
	return b
}

func doRequest(app *application, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.server.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	app := testApplication(t)
	registerTestBreaker(t, app, "checkout")

	rec := doRequest(app, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"breakers":1`)
}

func TestServer_RegisterAndGetBreaker(t *testing.T) {
	app := testApplication(t)

	cfg := breaker.DefaultConfig("checkout", "Checkout API", "payment")
	rec := doRequest(app, http.MethodPost, "/api/v1/breakers", cfg)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(app, http.MethodGet, "/api/v1/breakers/checkout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status breaker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "checkout", status.Config.ID)
	assert.Equal(t, "healthy", status.HealthSummary)

	// Duplicate registration conflicts
	rec = doRequest(app, http.MethodPost, "/api/v1/breakers", cfg)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_UnknownBreakerIs404(t *testing.T) {
	app := testApplication(t)

	rec := doRequest(app, http.MethodGet, "/api/v1/breakers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(app, http.MethodPost, "/api/v1/breakers/ghost/decision", breaker.RequestContext{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_InvalidConfigIs400(t *testing.T) {
	app := testApplication(t)

	cfg := breaker.DefaultConfig("checkout", "Checkout API", "payment")
	cfg.FailureThreshold = 7
	rec := doRequest(app, http.MethodPost, "/api/v1/breakers", cfg)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DecisionAndOutcomeFlow(t *testing.T) {
	app := testApplication(t)
	b := registerTestBreaker(t, app, "checkout")

	rec := doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/decision", breaker.RequestContext{})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision breaker.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)

	// Four failed outcomes trip the breaker
	for i := 0; i < 4; i++ {
		rec = doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/outcome", outcomeRequest{
			Success:    false,
			ImpactTier: "medium",
			Reason:     "upstream timeout",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	assert.Equal(t, breaker.StateOpen, b.State())

	rec = doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/decision", breaker.RequestContext{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.False(t, decision.Allowed)
}

func TestServer_OutcomeRejectsUnknownTier(t *testing.T) {
	app := testApplication(t)
	registerTestBreaker(t, app, "checkout")

	rec := doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/outcome", outcomeRequest{
		Success:    false,
		ImpactTier: "catastrophic",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_OperatorControls(t *testing.T) {
	app := testApplication(t)
	b := registerTestBreaker(t, app, "checkout")

	rec := doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/force-open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breaker.StateForceOpen, b.State())

	rec = doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/revert", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breaker.StateClosed, b.State())

	// Revert with nothing to revert conflicts
	rec = doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/revert", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(app, http.MethodPost, "/api/v1/breakers/checkout/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Coordinate(t *testing.T) {
	app := testApplication(t)
	registerTestBreaker(t, app, "checkout")
	registerTestBreaker(t, app, "ledger")

	rec := doRequest(app, http.MethodPost, "/api/v1/coordinate", coordinateRequest{
		TriggerBreakerID: "checkout",
		AffectedLayers:   []string{"payment"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp coordination.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"checkout", "ledger"}, resp.AffectedBreakers)
	assert.False(t, resp.PartialFailure)
}

func TestServer_DeregisterBreaker(t *testing.T) {
	app := testApplication(t)
	registerTestBreaker(t, app, "checkout")

	rec := doRequest(app, http.MethodDelete, "/api/v1/breakers/checkout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(app, http.MethodGet, "/api/v1/breakers/checkout", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UpdateBreaker(t *testing.T) {
	app := testApplication(t)
	b := registerTestBreaker(t, app, "checkout")

	updated := b.Config().Clone()
	updated.FailureThreshold = 0.8
	rec := doRequest(app, http.MethodPut, "/api/v1/breakers/checkout", updated)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.8, b.Config().FailureThreshold, 0.001)
}

func TestRegisterConfigured_UpsertsFromSpecs(t *testing.T) {
	store := breaker.NewStore()
	cfg := config.DefaultConfig()
	cfg.Breakers = []config.BreakerSpec{
		{ID: "checkout", Name: "Checkout API", SystemLayer: "payment"},
	}

	registerConfigured(store, cfg, persistence.Noop{}, observability.NopLogger())
	require.Equal(t, 1, store.Count())

	// A second apply updates instead of failing
	cfg.Breakers[0].FailureThreshold = 0.9
	registerConfigured(store, cfg, persistence.Noop{}, observability.NopLogger())

	b, err := store.Get("checkout")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, b.Config().FailureThreshold, 0.001)
}

func TestParseImpactTier(t *testing.T) {
	tier, ok := parseImpactTier("critical")
	require.True(t, ok)
	assert.Equal(t, breaker.TierCritical, tier)

	tier, ok = parseImpactTier("")
	require.True(t, ok)
	assert.Equal(t, breaker.TierMedium, tier)

	_, ok = parseImpactTier("catastrophic")
	assert.False(t, ok)
}

func TestRestorePersisted_AppliesStates(t *testing.T) {
	mrStates := fakeAdapter{
		configs: []*breaker.Config{breaker.DefaultConfig("checkout", "Checkout API", "payment")},
		states: map[string]persistence.StateRecord{
			"checkout": {State: "open", EnteredAt: time.Now().Add(-time.Second)},
		},
	}
	store := breaker.NewStore()

	restorePersisted(store, mrStates, observability.NopLogger())

	b, err := store.Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, b.State())
}

// fakeAdapter is an in-memory Adapter for startup-path tests.
type fakeAdapter struct {
	persistence.Noop
	configs []*breaker.Config
	states  map[string]persistence.StateRecord
}

func (f fakeAdapter) LoadConfigs(ctx context.Context) ([]*breaker.Config, error) {
	return f.configs, nil
}

func (f fakeAdapter) LoadStates(ctx context.Context) (map[string]persistence.StateRecord, error) {
	return f.states, nil
}
