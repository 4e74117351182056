// Package api exposes the product endpoints of the generation core: cached
// insight reads and interactive questions.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trendsight/insight-core/internal/insight"
	"github.com/trendsight/insight-core/internal/prompt"
	"github.com/trendsight/insight-core/internal/resilience"
)

// Handler serves the product endpoints.
type Handler struct {
	service *insight.Service
	logger  *slog.Logger
}

// HandlerOption is a functional option for configuring Handler.
type HandlerOption func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates the product handler over the insight service.
func NewHandler(service *insight.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts the product routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.POST("/v1/insights", h.HandleInsight)
	router.POST("/v1/ask", h.HandleAsk)
}

// sectionPayload is one prompt section as sent by the data pipeline.
type sectionPayload struct {
	Key      string `json:"key" binding:"required"`
	Content  string `json:"content"`
	Priority int    `json:"priority"`
}

// insightRequest is the body of POST /v1/insights.
type insightRequest struct {
	Subject       string           `json:"subject" binding:"required"`
	Type          string           `json:"type" binding:"required"`
	Sections      []sectionPayload `json:"sections" binding:"required"`
	LowConfidence bool             `json:"low_confidence"`
}

// askRequest is the body of POST /v1/ask.
type askRequest struct {
	UseCase  string   `json:"use_case" binding:"required"`
	Context  string   `json:"context"`
	History  []string `json:"history"`
	Question string   `json:"question" binding:"required"`
}

// HandleInsight handles POST /v1/insights. The response is always immediate:
// cached content when any exists, the template fallback otherwise, with
// regeneration queued in the background as needed.
func (h *Handler) HandleInsight(c *gin.Context) {
	var req insightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sections := make([]prompt.Section, 0, len(req.Sections))
	for _, s := range req.Sections {
		priority := s.Priority
		if priority == 0 {
			priority = prompt.PriorityImportant
		}
		sections = append(sections, prompt.Section{Key: s.Key, Content: s.Content, Priority: priority})
	}

	resp, err := h.service.Get(c.Request.Context(), insight.Request{
		Subject:       req.Subject,
		Type:          req.Type,
		Sections:      sections,
		LowConfidence: req.LowConfidence,
	})
	if err != nil {
		h.logger.Error("insight read failed",
			slog.String("subject", req.Subject),
			slog.String("type", req.Type),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insight unavailable"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleAsk handles POST /v1/ask.
func (h *Handler) HandleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := h.service.Ask(c.Request.Context(), insight.AskRequest{
		UseCase:       req.UseCase,
		SystemContext: req.Context,
		History:       req.History,
		Question:      req.Question,
	})
	if err != nil {
		var rejected *insight.InputRejectedError
		if errors.As(err, &rejected) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "question rejected",
				"flags": rejected.Flags,
			})
			return
		}
		if resilience.IsExhausted(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "all providers unavailable"})
			return
		}
		h.logger.Error("ask failed",
			slog.String("use_case", req.UseCase),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		return
	}

	c.JSON(http.StatusOK, answer)
}
