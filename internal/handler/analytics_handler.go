package handler

import (
	"net/http"
	"strconv"

	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/SergeiKhy/link-preview/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyticsHandler struct {
	recorder service.AnalyticsRecorder
	logger   *zap.Logger
}

func NewAnalyticsHandler(recorder service.AnalyticsRecorder, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		recorder: recorder,
		logger:   logger,
	}
}

type RecordEventRequest struct {
	EventType string `json:"event_type" binding:"required"`
	PostID    string `json:"post_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// RecordEvent godoc
// @Summary Record an analytics event
// @Description Queue a view, click or share event. Always 202: the write is asynchronous.
// @Tags analytics
// @Accept json
// @Produce json
// @Param id path string true "Preview ID"
// @Param request body RecordEventRequest true "Event"
// @Success 202 {object} map[string]string
// @Router /api/v1/previews/{id}/events [post]
func (h *AnalyticsHandler) RecordEvent(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid event body", zap.Error(err))
	}

	input := models.RecordEventInput{
		EventType:     models.EventType(req.EventType),
		LinkPreviewID: c.Param("id"),
		PostID:        req.PostID,
		UserID:        req.UserID,
		UserAgent:     c.Request.UserAgent(),
		Referrer:      c.Request.Referer(),
		IPAddress:     c.ClientIP(),
	}
	if err := h.recorder.RecordEvent(c.Request.Context(), input); err != nil {
		h.logger.Debug("Failed to record event (non-blocking)", zap.Error(err))
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GetAnalytics godoc
// @Summary Get preview analytics
// @Description Event counters for a single preview
// @Tags analytics
// @Produce json
// @Param id path string true "Preview ID"
// @Success 200 {object} models.LinkAnalytics
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/previews/{id}/analytics [get]
func (h *AnalyticsHandler) GetAnalytics(c *gin.Context) {
	id := c.Param("id")

	stats, err := h.recorder.GetAnalytics(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get analytics", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get analytics",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetPopularLinks godoc
// @Summary Get popular links
// @Description Most clicked previews over the last days
// @Tags analytics
// @Produce json
// @Security ApiKeyAuth
// @Param limit query int false "Max links" default(10)
// @Param days query int false "Window in days" default(7)
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/analytics/popular [get]
func (h *AnalyticsHandler) GetPopularLinks(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	days := queryInt(c, "days", 7)

	links, err := h.recorder.GetPopularLinks(c.Request.Context(), limit, days)
	if err != nil {
		h.logger.Error("Failed to get popular links", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get popular links",
		})
		return
	}
	if links == nil {
		links = []models.PopularLink{}
	}

	c.JSON(http.StatusOK, gin.H{"links": links, "limit": limit, "days": days})
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
