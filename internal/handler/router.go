package handler

import (
	"github.com/SergeiKhy/link-preview/internal/middleware"
	"github.com/SergeiKhy/link-preview/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewRouter(
	previewService service.PreviewService,
	recorder service.AnalyticsRecorder,
	rateLimiter *middleware.RateLimiter,
	apiKeyMiddleware gin.HandlerFunc,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.RequestLogger(logger), middleware.Metrics())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if apiKeyMiddleware == nil {
		apiKeyMiddleware = func(c *gin.Context) { c.Next() }
	}

	previewHandler := NewPreviewHandler(previewService, logger)
	analyticsHandler := NewAnalyticsHandler(recorder, logger)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", HealthCheck(recorder))

		limited := v1.Group("")
		if rateLimiter != nil {
			limited.Use(rateLimiter.Middleware())
		}

		limited.POST("/previews", previewHandler.ResolvePreview)
		limited.GET("/previews", previewHandler.GetCachedPreview)
		limited.DELETE("/previews", apiKeyMiddleware, previewHandler.InvalidatePreview)
		limited.POST("/previews/detect", previewHandler.DetectAndResolve)

		limited.POST("/previews/:id/events", analyticsHandler.RecordEvent)
		limited.GET("/previews/:id/analytics", analyticsHandler.GetAnalytics)
		limited.GET("/analytics/popular", apiKeyMiddleware, analyticsHandler.GetPopularLinks)
	}

	return router
}
