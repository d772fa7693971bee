// Package server wires the HTTP surface: one router, all middleware, all
// handlers.
package server

import (
	"github.com/gin-gonic/gin"

	"fleet-notify/internal/handler"
	"fleet-notify/internal/middleware"
	"fleet-notify/internal/redis"
	"fleet-notify/pkg/logger"
)

type RouterConfig struct {
	Mode      string
	JWTSecret string
}

type Handlers struct {
	Health  *handler.HealthHandler
	Session *handler.SessionHandler
	Message *handler.MessageHandler
	Notify  *handler.NotifyHandler
}

// NewRouter builds the gin engine. Everything under /api except /health
// sits behind the identity gate; send endpoints are additionally
// rate-limited per caller.
func NewRouter(cfg RouterConfig, h Handlers, limiter *redis.RateLimiter, log *logger.Logger) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.ErrorHandler(log))

	api := r.Group("/api")
	api.GET("/health", h.Health.Health)

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	sessions := authed.Group("/sessions")
	{
		sessions.GET("", h.Session.List)
		sessions.POST("/init", h.Session.Init)
		sessions.GET("/:id/status", h.Session.Status)
		sessions.GET("/:id/qr", h.Session.QR)
		sessions.POST("/:id/pairing-code", h.Session.PairingCode)
		sessions.POST("/:id/reconnect", h.Session.Reconnect)
		sessions.POST("/:id/disconnect", h.Session.Disconnect)
		sessions.DELETE("/:id", h.Session.Remove)
	}

	messages := authed.Group("/messages")
	{
		limited := messages.Group("")
		limited.Use(middleware.SendRateLimitMiddleware(limiter))
		limited.POST("/send", h.Message.Send)
		limited.POST("/bulk", h.Message.Bulk)

		messages.GET("", h.Message.List)
	}

	authed.POST("/notify", h.Notify.Notify)

	return r
}
