// Package ops exposes the operational HTTP endpoints for the generation
// core: health, credential pool state, breaker states and cache stats. The
// product endpoints live in the api package; this surface exists for
// monitoring only.
package ops

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trendsight/insight-core/internal/domain"
	"github.com/trendsight/insight-core/internal/insight"
	"github.com/trendsight/insight-core/internal/resilience"
	"github.com/trendsight/insight-core/internal/store"
)

// Handler serves the ops endpoints.
type Handler struct {
	keys     *domain.KeyManager
	breakers *resilience.BreakerRegistry
	insights store.InsightStore
	regen    *insight.RegenQueue
	logger   *slog.Logger
}

// HandlerOption is a functional option for configuring Handler.
type HandlerOption func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates the ops handler over the core's registries.
func NewHandler(keys *domain.KeyManager, breakers *resilience.BreakerRegistry, insights store.InsightStore, regen *insight.RegenQueue, opts ...HandlerOption) *Handler {
	h := &Handler{
		keys:     keys,
		breakers: breakers,
		insights: insights,
		regen:    regen,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts all ops routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", h.HandleHealth)
	router.GET("/v1/pool", h.HandlePool)
	router.GET("/v1/breakers", h.HandleBreakers)
	router.GET("/v1/cache", h.HandleCacheStats)
}

// HandleHealth handles GET /health. The core is degraded when any provider
// has zero available credentials.
func (h *Handler) HandleHealth(c *gin.Context) {
	status := "healthy"
	providers := make(map[string]gin.H)

	for _, name := range h.keys.Providers() {
		available := h.keys.AvailableCount(name)
		providers[name] = gin.H{
			"available_keys": available,
			"total_keys":     h.keys.TotalCount(name),
		}
		if available == 0 {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"providers": providers,
	})
}

// HandlePool handles GET /v1/pool. Keys are masked, never raw.
func (h *Handler) HandlePool(c *gin.Context) {
	pool := make(map[string][]domain.CredentialStatus)
	for _, name := range h.keys.Providers() {
		pool[name] = h.keys.Snapshot(name)
	}
	c.JSON(http.StatusOK, gin.H{"pool": pool})
}

// HandleBreakers handles GET /v1/breakers.
func (h *Handler) HandleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.breakers.States()})
}

// HandleCacheStats handles GET /v1/cache.
func (h *Handler) HandleCacheStats(c *gin.Context) {
	count, err := h.insights.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("cache count failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache unavailable"})
		return
	}

	triggered, deduped := h.regen.Stats()
	c.JSON(http.StatusOK, gin.H{
		"cached_insights": count,
		"regen_triggered": triggered,
		"regen_deduped":   deduped,
		"regen_in_flight": h.regen.InFlight(),
	})
}
