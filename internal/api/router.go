// Package api assembles the HTTP surface: the hh.ru webhook sink, the OAuth
// linking flow and the operational endpoints.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/app"
	"github.com/kvolkov/hhnotify/internal/handlers"
	"github.com/kvolkov/hhnotify/internal/middleware"
)

// NewRouter wires middleware and routes into a gin engine.
func NewRouter(cfg *app.Config, db *gorm.DB, webhook *handlers.WebhookHandler, oauth *handlers.OAuthHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.NoRoute(middleware.NotFoundHandler)

	router.GET("/health", handlers.Health(db))
	if cfg.Monitoring.Prometheus.Enabled {
		router.GET(cfg.Monitoring.Prometheus.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	router.POST("/hh/webhook", webhook.Receive)
	router.GET("/hh/auth/start", oauth.AuthStart)
	router.GET("/hh/oauth/callback", oauth.Callback)

	return router
}
