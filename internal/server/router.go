package server

import (
	"log/slog"
	"net/http"

	"github.com/fhecredit/backend/internal/auth"
	"github.com/fhecredit/backend/internal/config"
	"github.com/fhecredit/backend/internal/http/handlers"
	"github.com/fhecredit/backend/internal/http/middleware"
	"github.com/fhecredit/backend/internal/version"
	"github.com/fhecredit/backend/internal/ws"
	"github.com/gin-gonic/gin"
)

const maxSubmitBodyBytes = 4 << 20

type Dependencies struct {
	Pinger        handlers.Pinger
	CreditHandler *handlers.CreditHandler
	WSHandler     *ws.Handler
	JWTManager    *auth.JWTManager
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		logger.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Next()
	})

	health := handlers.NewHealthHandler(deps.Pinger)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version)

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)

	if deps.CreditHandler != nil && deps.JWTManager != nil {
		creditGroup := r.Group("/v1/credit")
		creditGroup.Use(middleware.RequireAuth(deps.JWTManager))
		creditGroup.POST("/submit", middleware.RequestBodyLimit(maxSubmitBodyBytes), deps.CreditHandler.Submit)
		creditGroup.POST("/evaluate", deps.CreditHandler.Evaluate)
		creditGroup.POST("/request-approval", deps.CreditHandler.RequestApproval)
		creditGroup.GET("/status/:identity", deps.CreditHandler.GetStatus)
		creditGroup.GET("/score/:identity", deps.CreditHandler.GetScore)
		creditGroup.GET("/approval/:identity", deps.CreditHandler.GetApproval)

		statsGroup := r.Group("/v1/registry")
		statsGroup.Use(middleware.RequireAuth(deps.JWTManager))
		statsGroup.GET("/stats", deps.CreditHandler.GetStats)
	}

	if deps.WSHandler != nil {
		r.GET("/v1/ws", deps.WSHandler.HandleWebSocket)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}
