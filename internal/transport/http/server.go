package http

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"fiqh-rag/internal/bootstrap"
	"fiqh-rag/internal/metrics"
	"fiqh-rag/internal/transport/http/handler"
	"fiqh-rag/internal/transport/http/middleware"
)

const maxMultipartMemory = 32 << 20

// Handlers groups everything the router mounts. Tests build it from fakes.
type Handlers struct {
	Auth          *handler.AuthHandler
	Conversations *handler.ConversationHandler
	Chat          *handler.ChatHandler
	Documents     *handler.DocumentHandler
	Health        *handler.HealthHandler
	RequireAuth   gin.HandlerFunc
}

func NewRouter(a *bootstrap.App) *gin.Engine {
	gin.SetMode(a.Config.App.GinMode)
	return Routes(Handlers{
		Auth:          handler.NewAuthHandler(a.Auth),
		Conversations: handler.NewConversationHandler(a.Conversations),
		Chat:          handler.NewChatHandler(a.Chat),
		Documents:     handler.NewDocumentHandler(a.Documents),
		Health:        handler.NewHealthHandler(a.Config.App.Name, a.Config.App.Env, a.StartedAt, healthChecks(a)),
		RequireAuth:   middleware.AuthJWT(a.Config.Auth.JWTSecret, a.Auth, a.Log),
	}, middleware.AccessLog(a.Log))
}

func healthChecks(a *bootstrap.App) map[string]handler.Check {
	return map[string]handler.Check{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := a.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		},
		"rabbitmq": func(context.Context) error {
			if a.MQConn == nil || a.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}
}

// Routes mounts the API on a fresh engine.
func Routes(h Handlers, accessLog gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(accessLog, gin.Recovery())

	router.GET("/healthz", h.Health.Check)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.POST("/refresh-token", h.Auth.RefreshToken)
	authGroup.GET("/me", h.RequireAuth, h.Auth.Me)
	authGroup.POST("/logout", h.RequireAuth, h.Auth.Logout)

	convGroup := v1.Group("/conversations")
	convGroup.Use(h.RequireAuth)
	convGroup.POST("", h.Conversations.Create)
	convGroup.GET("", h.Conversations.List)
	convGroup.PUT("/:cid/rename", h.Conversations.Rename)
	convGroup.DELETE("/:cid", h.Conversations.Delete)

	convGroup.GET("/:cid/messages", h.Chat.ListMessages)
	convGroup.POST("/:cid/messages", h.Chat.SendMessage)
	convGroup.POST("/:cid/messages/stream", h.Chat.StreamMessage)
	convGroup.PUT("/:cid/messages/:mid/edit", h.Chat.EditMessage)

	convGroup.POST("/:cid/upload", h.Documents.Upload)
	convGroup.GET("/:cid/documents", h.Documents.List)
	convGroup.GET("/:cid/documents/active", h.Documents.ListActive)
	convGroup.PATCH("/:cid/documents/:did/toggle-active", h.Documents.ToggleActive)
	convGroup.DELETE("/:cid/documents/:did", h.Documents.Delete)
	convGroup.GET("/:cid/documents/:did/download", h.Documents.Download)

	return router
}
