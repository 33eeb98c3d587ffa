package handler

import (
	"errors"
	"net/http"

	"github.com/SergeiKhy/link-preview/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PreviewHandler struct {
	service service.PreviewService
	logger  *zap.Logger
}

func NewPreviewHandler(service service.PreviewService, logger *zap.Logger) *PreviewHandler {
	return &PreviewHandler{
		service: service,
		logger:  logger,
	}
}

type ResolvePreviewRequest struct {
	URL              string `json:"url" binding:"required"`
	Refresh          bool   `json:"refresh"`
	ValidateSecurity *bool  `json:"validate_security,omitempty"`
}

type DetectRequest struct {
	Text             string `json:"text" binding:"required"`
	ValidateSecurity *bool  `json:"validate_security,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// validateFlag по умолчанию проверка безопасности включена
func validateFlag(v *bool) bool {
	return v == nil || *v
}

// ResolvePreview godoc
// @Summary Resolve a link preview
// @Description Validate the URL, extract page metadata and cache the preview
// @Tags previews
// @Accept json
// @Produce json
// @Param request body ResolvePreviewRequest true "Preview request"
// @Success 200 {object} service.ResolveResult
// @Failure 400 {object} service.ResolveResult
// @Failure 502 {object} service.ResolveResult
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/previews [post]
func (h *PreviewHandler) ResolvePreview(c *gin.Context) {
	var req ResolvePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	res, err := h.service.ResolvePreview(c.Request.Context(), service.ResolveInput{
		URL:              req.URL,
		Refresh:          req.Refresh,
		ValidateSecurity: validateFlag(req.ValidateSecurity),
	})
	h.respond(c, res, err)
}

// DetectAndResolve godoc
// @Summary Resolve the first link found in text
// @Description Find the first http(s) URL in free text and resolve its preview
// @Tags previews
// @Accept json
// @Produce json
// @Param request body DetectRequest true "Text with a link"
// @Success 200 {object} service.ResolveResult
// @Failure 400 {object} service.ResolveResult
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} service.ResolveResult
// @Router /api/v1/previews/detect [post]
func (h *PreviewHandler) DetectAndResolve(c *gin.Context) {
	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	res, err := h.service.DetectAndResolve(c.Request.Context(), req.Text, validateFlag(req.ValidateSecurity))
	if errors.Is(err, service.ErrNoURLFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "no_url_found",
			Message: "No http(s) link found in text",
		})
		return
	}
	h.respond(c, res, err)
}

// respond отдаёт ResolveResult с кодом, соответствующим классу ошибки
func (h *PreviewHandler) respond(c *gin.Context, res *service.ResolveResult, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, service.ErrInvalidURL), errors.Is(err, service.ErrUnsafeLink):
		c.JSON(http.StatusBadRequest, res)
	case errors.Is(err, service.ErrPreviewUnavailable):
		c.JSON(http.StatusBadGateway, res)
	default:
		h.logger.Error("Failed to resolve preview", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to resolve preview",
		})
	}
}

// GetCachedPreview godoc
// @Summary Get a cached preview
// @Description Read a preview from cache or storage without fetching the page
// @Tags previews
// @Produce json
// @Param url query string true "Link URL"
// @Success 200 {object} models.LinkPreview
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/previews [get]
func (h *PreviewHandler) GetCachedPreview(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_url",
			Message: "Query parameter url is required",
		})
		return
	}

	preview, err := h.service.GetCachedPreview(c.Request.Context(), rawURL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_url",
				Message: "Invalid URL format",
			})
		default:
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Preview not found",
			})
		}
		return
	}

	c.JSON(http.StatusOK, preview)
}

// InvalidatePreview godoc
// @Summary Invalidate a preview
// @Description Drop the preview from every cache tier and mark the stored row invalid
// @Tags previews
// @Produce json
// @Security ApiKeyAuth
// @Param url query string true "Link URL"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/previews [delete]
func (h *PreviewHandler) InvalidatePreview(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_url",
			Message: "Query parameter url is required",
		})
		return
	}

	if err := h.service.InvalidatePreview(c.Request.Context(), rawURL); err != nil {
		if errors.Is(err, service.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_url",
				Message: "Invalid URL format",
			})
			return
		}
		h.logger.Error("Failed to invalidate preview", zap.String("url", rawURL), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to invalidate preview",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Preview invalidated"})
}

// HealthResponse состояние сервиса и очереди аналитики
type HealthResponse struct {
	Status    string                `json:"status"`
	Analytics *service.ChannelStats `json:"analytics,omitempty"`
}

// HealthCheck godoc
// @Summary Health check
// @Description Service status with analytics worker pool statistics
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /api/v1/health [get]
func HealthCheck(recorder service.AnalyticsRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{Status: "ok"}
		if recorder != nil {
			stats := recorder.Stats()
			resp.Analytics = &stats
		}
		c.JSON(http.StatusOK, resp)
	}
}
