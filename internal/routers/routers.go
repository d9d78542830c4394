package routers

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Gopher0727/ChatEngine/config"
	"github.com/Gopher0727/ChatEngine/internal/handlers"
	"github.com/Gopher0727/ChatEngine/internal/metrics"
	"github.com/Gopher0727/ChatEngine/internal/middlewares"
	"github.com/Gopher0727/ChatEngine/internal/services"
	"github.com/Gopher0727/ChatEngine/internal/utils"
	"github.com/Gopher0727/ChatEngine/middleware/jwt"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
	"github.com/Gopher0727/ChatEngine/pkg/ws"
	"github.com/Gopher0727/ChatEngine/utils/ratelimit"
)

// Deps 路由依赖，Pool、Metrics、Gatherer 可以为 nil
type Deps struct {
	Config   *config.Config
	Services *services.Services
	Hub      *ws.Hub
	Tokens   *jwt.TokenManager
	Limiter  ratelimit.Limiter
	Pool     *utils.WorkerPool
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger
}

// SetupRoutes 设置所有路由
func SetupRoutes(r *gin.Engine, d Deps) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsConfig))

	if d.Logger != nil {
		r.Use(logger.GinMiddleware(d.Logger))
	}
	r.Use(middlewares.MetricsMiddleware(d.Metrics))
	if d.Config.Server.MaxConcurrent > 0 {
		r.Use(middlewares.MaxConcurrencyMiddleware(d.Config.Server.MaxConcurrent))
	}

	auth := middlewares.AuthMiddleware(d.Tokens)
	presence := handlers.NewPresenceHandler(d.Services, d.Logger)

	// WebSocket 路由 (必须在 AsyncMiddleware 之前注册，避免长连接占住 Worker)
	r.GET("/ws", auth, func(c *gin.Context) {
		ws.ServeWs(d.Hub, presence, c)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"Status": "OK",
		})
	})

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	// 将请求放入 Worker Pool 中排队执行
	api.Use(middlewares.AsyncMiddleware(d.Pool))

	invites := handlers.NewInviteHandler(d.Services, d.Logger)
	api.GET("/invites/:code", invites.Preview) // 邀请预览，无需登录

	authed := api.Group("")
	authed.Use(auth)

	RegisterConversationRoutes(authed, d, presence, invites)
	RegisterMessageRoutes(authed, d)
	RegisterInviteRoutes(authed, d, invites)
}

func limit(d Deps, action string) gin.HandlerFunc {
	return middlewares.RateLimitMiddleware(d.Limiter, action, &d.Config.RateLimit)
}

// RegisterConversationRoutes 会话、成员、已读状态与输入状态
func RegisterConversationRoutes(rg *gin.RouterGroup, d Deps, presence *handlers.PresenceHandler, invites *handlers.InviteHandler) {
	conv := handlers.NewConversationHandler(d.Services, d.Logger)
	rs := handlers.NewReadStateHandler(d.Services, d.Logger)

	g := rg.Group("/conversations")
	{
		g.GET("", conv.ListConversations)
		g.GET("/unread-count", conv.UnreadCount)
		g.GET("/search", conv.Search)
		g.GET("/slug-available", conv.SlugAvailable)
		g.PUT("/pin-order", rs.UpdatePinOrder)

		g.POST("/direct", conv.CreateDirect)
		g.POST("/groups", conv.CreateGroup)
		g.POST("/channels", conv.CreateChannel)

		g.GET("/:id", conv.GetConversation)
		g.PATCH("/:id", conv.UpdateConversation)
		g.DELETE("/:id", conv.DeleteConversation) // ?type=ME|ALL

		// 成员
		g.POST("/:id/join", conv.Join)
		g.POST("/:id/leave", conv.Leave)
		g.GET("/:id/participants", conv.Participants)
		g.POST("/:id/participants", conv.AddParticipant)
		g.DELETE("/:id/participants/:user_id", conv.Kick)

		// 查询
		g.GET("/:id/messages", conv.Messages)
		g.GET("/:id/messages/pinned", conv.PinnedMessages)
		g.GET("/:id/stats", conv.Stats)

		// 个人状态
		g.POST("/:id/read", rs.MarkRead)
		g.POST("/:id/unread", rs.MarkUnread)
		g.POST("/:id/archive", rs.ToggleArchive)
		g.POST("/:id/mute", rs.ToggleMute)
		g.POST("/:id/pin", rs.TogglePin)

		// 输入中 / 正在查看
		g.GET("/:id/typing", presence.TypingUsers)
		g.POST("/:id/typing", presence.Typing)
		g.POST("/:id/viewing", presence.SetViewing)
		g.DELETE("/:id/viewing", presence.ClearViewing)

		// 邀请链接
		g.GET("/:id/invites", invites.ListInvites)
		g.POST("/:id/invites", limit(d, ratelimit.ActionInvite), invites.CreateInvite)
	}
}

// RegisterMessageRoutes 消息写操作
func RegisterMessageRoutes(rg *gin.RouterGroup, d Deps) {
	msg := handlers.NewMessageHandler(d.Services, d.Logger)

	g := rg.Group("/messages")
	{
		g.POST("", limit(d, ratelimit.ActionMessage), msg.SendMessage)
		g.POST("/views", msg.IncrementViews)
		g.PATCH("/:id", msg.EditMessage)
		g.DELETE("/:id", msg.DeleteMessage) // ?type=ALL|ME
		g.POST("/:id/forward", limit(d, ratelimit.ActionMessage), msg.ForwardMessage)
		g.POST("/:id/reactions", limit(d, ratelimit.ActionReaction), msg.ToggleReaction)
		g.POST("/:id/pin", msg.TogglePin)
	}
}

// RegisterInviteRoutes 邀请链接的撤销与加入，预览在 SetupRoutes 中公开注册
func RegisterInviteRoutes(rg *gin.RouterGroup, d Deps, invites *handlers.InviteHandler) {
	g := rg.Group("/invites")
	{
		g.DELETE("/:invite_id", invites.RevokeInvite)
		g.POST("/:code/join", limit(d, ratelimit.ActionInvite), invites.Join)
	}
}
