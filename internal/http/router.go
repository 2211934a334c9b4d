package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/harborpoint/advisory-backend/internal/http/handlers"
	"github.com/harborpoint/advisory-backend/internal/http/middleware"
)

type RouterConfig struct {
	DiagnosticHandler *handlers.DiagnosticHandler
	AuthMiddleware    *middleware.AuthMiddleware
	AllowOrigins      []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/diagnostics/:id/submit", cfg.DiagnosticHandler.Submit)
		api.GET("/diagnostics/:id/status", cfg.DiagnosticHandler.PollStatus)
		api.GET("/diagnostics/:id", cfg.DiagnosticHandler.GetDetail)
	}

	return router
}
