package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-BH/appjob/internal/delivery/http/middleware"
	"github.com/Harsh-BH/appjob/internal/usecase"
)

const maxBodyBytes = 64 << 10

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(
	svc *usecase.JobService,
	checks map[string]HealthCheck,
	logger *zap.Logger,
	rateLimitPerMin int,
) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(checks, logger)
		v1.GET("/health", healthHandler.Health)

		catalogHandler := NewCatalogHandler(svc)
		v1.GET("/engines", catalogHandler.Engines)
		v1.GET("/kinds", catalogHandler.Kinds)

		jobHandler := NewJobHandler(svc, logger)
		wsHandler := NewWebSocketHandler(svc, logger)

		jobs := v1.Group("/jobs")
		jobs.GET("", jobHandler.List)
		jobs.GET("/:id", jobHandler.GetByID)
		jobs.GET("/:id/history", jobHandler.History)
		jobs.GET("/:id/stream", wsHandler.Stream)

		// Mutating routes are rate limited.
		mutating := jobs.Group("", middleware.RateLimiter(rateLimitPerMin), middleware.BodySizeLimit(maxBodyBytes))
		mutating.POST("", jobHandler.Start)
		mutating.POST("/:id/cancel", jobHandler.Cancel)
		mutating.POST("/:id/suspend", jobHandler.Suspend)
		mutating.POST("/:id/resume", jobHandler.Resume)
		mutating.DELETE("/:id", jobHandler.Delete)
	}

	return router
}
