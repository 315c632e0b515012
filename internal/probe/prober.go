// Package probe implements the optional health prober. For breakers with a
// health-check URL configured, the prober periodically probes degraded
// breakers and feeds the outcome through the normal admission protocol so a
// healthy dependency walks the breaker through half-open recovery without
// live traffic. A probe that cannot be performed counts as a failed probe,
// not as an internal error.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/observability"
)

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 5 * time.Second

// Prober sweeps degraded breakers and probes their health endpoints.
type Prober struct {
	store   *breaker.Store
	client  *http.Client
	limiter *rate.Limiter
	logger  observability.Logger
	timeout time.Duration
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the prober's logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Prober) { p.logger = logger }
}

// WithTimeout bounds each probe request.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) { p.timeout = d }
}

// WithClient overrides the HTTP client, used by tests.
func WithClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithRateLimit caps outbound probes per second across all breakers.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Prober) { p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewProber creates a prober over the given store.
func NewProber(store *breaker.Store, opts ...Option) *Prober {
	p := &Prober{
		store:   store,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		logger:  observability.NopLogger(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sweep performs one probing pass. Scheduling is the caller's concern;
// tests call Sweep directly. Only breakers that are open or half-open and
// have a health-check URL are probed, so healthy breakers cost nothing.
func (p *Prober) Sweep(ctx context.Context) {
	for _, b := range p.store.List() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cfg := b.Config()
		if cfg.HealthCheckURL == "" {
			continue
		}

		state := b.State()
		if state != breaker.StateOpen && state != breaker.StateHalfOpen {
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		p.probeBreaker(ctx, b, cfg)
	}
}

// probeBreaker admits a probe through the breaker's own decision protocol
// and records the health-check outcome against it. If the breaker denies
// the probe (open deadline not reached, probe quota exhausted) nothing is
// recorded.
func (p *Prober) probeBreaker(ctx context.Context, b *breaker.Breaker, cfg *breaker.Config) {
	decision := b.Admit(breaker.RequestContext{})
	if !decision.Allowed {
		return
	}

	start := time.Now()
	err := p.check(ctx, cfg.HealthCheckURL)
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Warn("health probe failed",
			observability.String("breaker", cfg.ID),
			observability.String("url", cfg.HealthCheckURL),
			observability.Error(err),
		)
		b.RecordFailure(breaker.FailureContext{
			ImpactTier: breaker.TierLow,
			Reason:     "health probe failed: " + err.Error(),
		})
		return
	}

	p.logger.Debug("health probe succeeded",
		observability.String("breaker", cfg.ID),
		observability.Duration("elapsed", elapsed),
	)
	b.RecordSuccess(elapsed)
}

// check performs one HTTP health check. Any 2xx response is healthy.
func (p *Prober) check(ctx context.Context, url string) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
