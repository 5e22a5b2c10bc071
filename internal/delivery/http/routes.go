package http

import (
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/macrolens/larder/config"
)

// maxBodySize caps request bodies (1MB).
const maxBodySize = 1 << 20

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}

	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware(log))
	router.Use(requestid.New())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check and metrics endpoints
	router.GET("/health", handler.HealthCheck)
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics))
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit.PerIP, cfg.RateLimit.Burst, log))
	v1.Use(BodySizeLimit(maxBodySize))
	{
		completions := v1.Group("/completions")
		{
			completions.POST("", handler.CompleteRecipe)
			completions.POST("/plan", handler.PlanCompletion)
		}

		v1.GET("/households/:householdId/inventory", handler.ListInventory)

		records := v1.Group("/inventory/records")
		{
			records.PUT("", handler.PutRecord)
			records.GET("/:recordId/audit", handler.RecordAudit)
		}
	}

	return router
}
