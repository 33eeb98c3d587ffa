package middleware

import (
	"strconv"
	"time"

	"github.com/SergeiKhy/link-preview/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics собирает prometheus-метрики HTTP-запросов.
// Путь берётся из шаблона маршрута, чтобы не плодить метки.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
