package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/internal/metrics"
)

// MetricsMiddleware 按路由模板记录请求数与耗时，未匹配的路由记为 unmatched
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
