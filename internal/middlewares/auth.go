package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/middleware/jwt"
)

// ContextUserID 认证通过后写入 gin.Context 的调用者 ID
const ContextUserID = "user_id"

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(tokens *jwt.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string

		// 1. 尝试从请求头获取 token
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}

		// 2. 如果请求头没有，尝试从 Query 参数获取 (主要用于 WebSocket)
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "未提供认证 Token",
				"reason": "unauthenticated",
			})
			return
		}

		claims, err := tokens.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "Token 无效或已过期",
				"reason": "unauthenticated",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set("username", claims.UserName)

		c.Next()
	}
}
