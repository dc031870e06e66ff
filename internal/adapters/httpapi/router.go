// Package httpapi wires the REST surface and the signaling websocket into a
// gin router.
package httpapi

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/adapters/ws"
	"github.com/avolkov/huddle/internal/config"
)

// ClientTokenMiddleware pins a long-lived client token cookie so a browser
// keeps a stable identity across page loads.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *Handlers, signal *ws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "httpapi").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	{
		api.POST("/rooms", h.CreateRoom)
		api.POST("/rooms/join", h.JoinRoom)

		authed := api.Group("", RoomTokenAuth(cfg.Secret))
		{
			authed.GET("/rooms/:roomId", h.GetRoom)
			authed.POST("/rooms/leave", h.LeaveRoom)
			authed.GET("/messages", h.GetMessages)
			authed.POST("/files", h.RegisterFile)
			authed.GET("/files", h.ListFiles)
		}

		api.GET("/ws/signal", RoomTokenAuth(cfg.Secret), func(c *gin.Context) {
			signal.HandleSignal(ctx, c)
		})
	}

	return r
}
