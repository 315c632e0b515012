package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/observability"
)

// server exposes the admission, operator and coordination API over HTTP.
type server struct {
	app    *application
	logger observability.Logger
	http   *http.Server
}

func newServer(app *application, logger observability.Logger) *server {
	s := &server{app: app, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/breakers", s.handleListBreakers)
		v1.POST("/breakers", s.handleRegisterBreaker)
		v1.GET("/breakers/:id", s.handleGetBreaker)
		v1.PUT("/breakers/:id", s.handleUpdateBreaker)
		v1.DELETE("/breakers/:id", s.handleDeregisterBreaker)

		v1.POST("/breakers/:id/decision", s.handleDecision)
		v1.POST("/breakers/:id/outcome", s.handleOutcome)

		v1.POST("/breakers/:id/force-open", s.handleForceOpen)
		v1.POST("/breakers/:id/revert", s.handleRevert)
		v1.POST("/breakers/:id/reset", s.handleReset)

		v1.POST("/coordinate", s.handleCoordinate)
	}

	s.http = &http.Server{
		Addr:              app.config.ListenAddr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return s
}

// Start begins serving in a background goroutine.
func (s *server) Start() {
	s.logger.Info("starting HTTP server",
		observability.String("address", s.http.Addr),
	)

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", observability.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"breakers": s.app.store.Count(),
	})
}

func (s *server) handleListBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.store.Statuses())
}

func (s *server) handleGetBreaker(c *gin.Context) {
	status, err := s.app.decider.GetStatus(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *server) handleRegisterBreaker(c *gin.Context) {
	var cfg breaker.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.app.store.Register(&cfg); err != nil {
		s.writeError(c, err)
		return
	}

	s.persistConfig(c, &cfg)
	c.JSON(http.StatusCreated, gin.H{"id": cfg.ID})
}

func (s *server) handleUpdateBreaker(c *gin.Context) {
	var cfg breaker.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.ID = c.Param("id")

	if err := s.app.store.Update(cfg.ID, &cfg); err != nil {
		s.writeError(c, err)
		return
	}

	s.persistConfig(c, &cfg)
	c.JSON(http.StatusOK, gin.H{"id": cfg.ID})
}

func (s *server) handleDeregisterBreaker(c *gin.Context) {
	if err := s.app.store.Deregister(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDecision runs the admission check for one prospective request.
func (s *server) handleDecision(c *gin.Context) {
	var reqCtx breaker.RequestContext
	if err := c.ShouldBindJSON(&reqCtx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := s.app.decider.ShouldAllowRequest(c.Param("id"), reqCtx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// outcomeRequest reports the result of one guarded operation.
type outcomeRequest struct {
	Success              bool    `json:"success"`
	LatencyMillis        int64   `json:"latencyMillis"`
	ImpactTier           string  `json:"impactTier"`
	EstimatedValueAtRisk float64 `json:"estimatedValueAtRisk"`
	Reason               string  `json:"reason"`
}

func (s *server) handleOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	var err error
	if req.Success {
		err = s.app.decider.RecordSuccess(id, time.Duration(req.LatencyMillis)*time.Millisecond)
	} else {
		tier, ok := parseImpactTier(req.ImpactTier)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown impact tier"})
			return
		}
		err = s.app.decider.RecordFailure(id, breaker.FailureContext{
			ImpactTier:           tier,
			EstimatedValueAtRisk: req.EstimatedValueAtRisk,
			Reason:               req.Reason,
		})
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// forceOpenRequest optionally bounds the manual isolation.
type forceOpenRequest struct {
	AutoRevertAfterMillis int64 `json:"autoRevertAfterMillis"`
}

func (s *server) handleForceOpen(c *gin.Context) {
	var req forceOpenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	b, err := s.app.store.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	b.ForceOpen(time.Duration(req.AutoRevertAfterMillis) * time.Millisecond)
	c.JSON(http.StatusOK, gin.H{"state": b.State().String()})
}

func (s *server) handleRevert(c *gin.Context) {
	b, err := s.app.store.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := b.Revert(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": b.State().String()})
}

func (s *server) handleReset(c *gin.Context) {
	b, err := s.app.store.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	b.Reset()
	c.JSON(http.StatusOK, gin.H{"state": b.State().String()})
}

// coordinateRequest triggers coordinated isolation across layers.
type coordinateRequest struct {
	TriggerBreakerID string   `json:"triggerBreakerId" binding:"required"`
	AffectedLayers   []string `json:"affectedLayers" binding:"required"`
}

func (s *server) handleCoordinate(c *gin.Context) {
	var req coordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.app.orchestrator.Coordinate(c.Request.Context(), req.TriggerBreakerID, req.AffectedLayers)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// persistConfig best-effort saves an accepted config change.
func (s *server) persistConfig(c *gin.Context, cfg *breaker.Config) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.app.adapter.SaveConfig(ctx, cfg); err != nil {
		s.logger.Warn("failed to persist breaker config",
			observability.String("breaker", cfg.ID),
			observability.Error(err),
		)
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, breaker.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, breaker.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, breaker.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, breaker.ErrTransitionBlocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// parseImpactTier parses the wire tier names. Empty defaults to medium.
func parseImpactTier(s string) (breaker.ImpactTier, bool) {
	if s == "" {
		return breaker.TierMedium, true
	}
	return breaker.ParseImpactTier(s)
}
