package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/arash/imagina/internal/api/middleware"
	"github.com/arash/imagina/internal/domain"
	"github.com/arash/imagina/internal/engine"
	"github.com/arash/imagina/internal/logger"
	"github.com/arash/imagina/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImaginationHandler serves the imagination CRUD surface and the inbound
// webhook endpoint.
type ImaginationHandler struct {
	repo   *repository.ImaginationRepository
	engine *engine.Engine
	log    *logger.Logger
}

// NewImaginationHandler creates an imagination handler.
func NewImaginationHandler(repo *repository.ImaginationRepository, eng *engine.Engine, log *logger.Logger) *ImaginationHandler {
	return &ImaginationHandler{
		repo:   repo,
		engine: eng,
		log:    log,
	}
}

// CreateImaginationRequest is the body of POST /imaginations.
type CreateImaginationRequest struct {
	Prompt  string                 `json:"prompt" binding:"required"`
	Context map[string]interface{} `json:"context"`
	Engine  string                 `json:"engine"`
}

// Create persists a new draft imagination and hands it to the lifecycle
// engine. Submission runs in the background; the response returns the draft
// record immediately.
func (h *ImaginationHandler) Create(c *gin.Context) {
	var req CreateImaginationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	business := middleware.BusinessFrom(c)
	userID := middleware.UserIDFrom(c)

	engineName := domain.ImaginationEngine(req.Engine)
	if engineName == "" {
		engineName = domain.EngineMidjourney
	}

	imag := &domain.Imagination{
		ID:         uuid.New().String(),
		BusinessID: business.ID,
		UserID:     userID,
		Prompt:     req.Prompt,
		Context:    domain.JSONMap(req.Context),
		Engine:     engineName,
		Mode:       domain.ModeImagine,
		Status:     domain.StatusDraft,
		Progress:   -1,
	}

	ctx := logger.SetImaginationID(c.Request.Context(), imag.ID)
	if err := h.repo.Create(ctx, imag); err != nil {
		logger.FromContext(ctx).WithError(err).Error("failed to create imagination")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create imagination"})
		return
	}

	// Submission talks to the external engine; run it detached so the
	// response returns immediately and a client disconnect cannot abort it.
	// The goroutine gets its own copy, the response serializes ours.
	submitted := *imag
	go h.engine.Submit(context.WithoutCancel(ctx), &submitted)

	c.JSON(http.StatusCreated, imag)
}

// List returns the caller's imaginations, newest first, with limit and
// offset pagination.
func (h *ImaginationHandler) List(c *gin.Context) {
	business := middleware.BusinessFrom(c)
	userID := middleware.UserIDFrom(c)

	limit := parsePositive(c.DefaultQuery("limit", "20"), 20)
	if limit > 100 {
		limit = 100
	}
	offset := parsePositive(c.DefaultQuery("offset", "0"), 0)

	imaginations, err := h.repo.ListByOwner(c.Request.Context(), business.ID, userID, limit, offset)
	if err != nil {
		logger.FromContext(c.Request.Context()).WithError(err).Error("failed to list imaginations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list imaginations"})
		return
	}

	total, err := h.repo.CountByOwner(c.Request.Context(), business.ID, userID)
	if err != nil {
		logger.FromContext(c.Request.Context()).WithError(err).Error("failed to count imaginations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list imaginations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imaginations": imaginations,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// Get returns a single imagination owned by the caller.
func (h *ImaginationHandler) Get(c *gin.Context) {
	imag, ok := h.ownedImagination(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, imag)
}

// Delete removes an imagination and stops any pending poll for it.
func (h *ImaginationHandler) Delete(c *gin.Context) {
	imag, ok := h.ownedImagination(c)
	if !ok {
		return
	}

	if err := h.repo.Delete(c.Request.Context(), imag.ID); err != nil {
		logger.FromContext(c.Request.Context()).WithError(err).Error("failed to delete imagination")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete imagination"})
		return
	}
	h.engine.StopPolling(imag.ID)

	c.JSON(http.StatusOK, gin.H{"message": "imagination deleted"})
}

// Webhook ingests a pushed status update from the generation engine. The
// route is unauthenticated; unknown ids get 404 and malformed payloads 400.
// Cancelled records acknowledge without applying the update.
func (h *ImaginationHandler) Webhook(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.SetImaginationID(c.Request.Context(), id)

	imag, err := h.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "imagination not found"})
			return
		}
		logger.FromContext(ctx).WithError(err).Error("failed to load imagination for webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load imagination"})
		return
	}

	if imag.Status == domain.StatusCancelled {
		c.JSON(http.StatusOK, gin.H{"message": "imagination has been cancelled"})
		return
	}

	var payload domain.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Applying the update may publish finished assets; keep going even if
	// the engine drops the connection early.
	h.engine.HandleWebhook(context.WithoutCancel(ctx), imag, &payload)

	c.JSON(http.StatusOK, gin.H{})
}

// parsePositive parses a non-negative integer query value, falling back to
// def on garbage or negatives.
func parsePositive(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// ownedImagination loads the path id and enforces that the caller owns it.
// Records outside the caller's business or user scope read as not found.
func (h *ImaginationHandler) ownedImagination(c *gin.Context) (*domain.Imagination, bool) {
	business := middleware.BusinessFrom(c)
	userID := middleware.UserIDFrom(c)

	imag, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "imagination not found"})
			return nil, false
		}
		logger.FromContext(c.Request.Context()).WithError(err).Error("failed to load imagination")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load imagination"})
		return nil, false
	}

	if imag.BusinessID != business.ID || imag.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "imagination not found"})
		return nil, false
	}

	return imag, true
}
