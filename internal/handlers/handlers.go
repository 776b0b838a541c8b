// Package handlers exposes the HTTP surface: auth, call history, push
// subscriptions, ICE configuration and the websocket entry point.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/warasat/Chat-Application/internal/auth"
	"github.com/warasat/Chat-Application/internal/calllog"
	"github.com/warasat/Chat-Application/internal/config"
	"github.com/warasat/Chat-Application/internal/presence"
	"github.com/warasat/Chat-Application/internal/push"
	"github.com/warasat/Chat-Application/internal/relay"
	"github.com/warasat/Chat-Application/internal/room"
	"github.com/warasat/Chat-Application/internal/turn"
)

type Handlers struct {
	config   *config.Config
	db       *gorm.DB
	hub      *relay.Hub
	coord    *room.Coordinator
	registry *presence.Registry
	calls    *calllog.Logger
	turn     *turn.Server
	push     *push.Notifier
	auth     *auth.Manager
	log      *slog.Logger
}

func New(cfg *config.Config, db *gorm.DB, hub *relay.Hub, coord *room.Coordinator,
	registry *presence.Registry, calls *calllog.Logger, turnSrv *turn.Server,
	notifier *push.Notifier, authMgr *auth.Manager, log *slog.Logger) *Handlers {
	return &Handlers{
		config:   cfg,
		db:       db,
		hub:      hub,
		coord:    coord,
		registry: registry,
		calls:    calls,
		turn:     turnSrv,
		push:     notifier,
		auth:     authMgr,
		log:      log,
	}
}

// Register mounts every route on the engine.
func (h *Handlers) Register(r *gin.Engine) {
	r.Use(h.corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ws", h.ServeWS)

	api := r.Group("/api")
	{
		api.POST("/auth/login", h.Login)
		api.GET("/config/turn", h.GetTURNConfig)
		api.GET("/push/vapid-public-key", h.GetVAPIDPublicKey)

		protected := api.Group("", h.auth.Middleware())
		{
			protected.GET("/users", h.ListUsers)
			protected.GET("/calls/:chatId", h.CallHistory)
			protected.GET("/calls/:chatId/active", h.ActiveCall)
			protected.POST("/push/subscribe", h.SubscribePush)
			protected.POST("/push/unsubscribe", h.UnsubscribePush)
		}
	}
}

func (h *Handlers) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
