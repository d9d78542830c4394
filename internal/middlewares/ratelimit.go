package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/config"
	"github.com/Gopher0727/ChatEngine/utils/ratelimit"
)

// RateLimitMiddleware 按用户限制写操作频率，必须挂在 AuthMiddleware 之后
func RateLimitMiddleware(limiter ratelimit.Limiter, action string, cfg *config.RateLimitConfig) gin.HandlerFunc {
	rule := ratelimit.RuleFor(action, cfg)

	return func(c *gin.Context) {
		userID := c.GetUint(ContextUserID)
		allowed, err := limiter.Allow(c.Request.Context(), ratelimit.Key(action, userID), rule.Limit, rule.Window)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":  "限流服务不可用，请稍后重试",
				"reason": "rate_limiter_unavailable",
			})
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "请求过于频繁，请稍后重试",
				"reason": "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// MaxConcurrencyMiddleware 最大并发控制中间件
// 限制同时处理的请求数量，防止 Goroutine 数量无限增长
func MaxConcurrencyMiddleware(maxConcurrent int) gin.HandlerFunc {
	sem := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":  "并发请求过多，请稍后重试",
				"reason": "overloaded",
			})
		}
	}
}
