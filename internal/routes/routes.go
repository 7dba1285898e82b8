package routes

import (
	"net/http"

	"disclosure-cache-api/internal/auth"
	"disclosure-cache-api/internal/handlers"
	"disclosure-cache-api/internal/middleware"
	"disclosure-cache-api/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options wires the router to its collaborators.
type Options struct {
	Handler *handlers.Handler
	Issuer  *auth.Issuer
	Metrics http.Handler // optional; served at /metrics
	Logger  *zap.Logger  // optional; enables request logging
}

func SetupRoutes(opts Options) *gin.Engine {
	// Create a new GIN Router
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery(), middleware.RequestID())
	if opts.Logger != nil {
		ginRouter.Use(middleware.Logger(opts.Logger))
	}

	// CORS middleware (for frontend integration)
	ginRouter.Use(middleware.CORS())

	// Health check endpoint
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Disclosure cache API is running",
		})
	})

	if opts.Metrics != nil {
		ginRouter.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	h := opts.Handler

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/login", h.Login)
	}

	// Protected routes (authentication required)
	protectedRoutes := api.Group("")
	protectedRoutes.Use(middleware.JWTAuthMiddleware(opts.Issuer))
	{
		protectedRoutes.GET("/users", middleware.RequireRole(models.RoleAdmin), h.GetAllUsers)
	}

	v1 := protectedRoutes.Group("/v1")
	{
		// Cache endpoints
		v1.GET("/cache", h.GetCacheStats)
		v1.GET("/cache/audit", h.GetCacheAudits)
		v1.GET("/cache/events", h.CacheEvents)

		admin := v1.Group("", middleware.RequireRole(models.RoleAdmin))
		admin.DELETE("/cache", h.InvalidateCache)
		admin.POST("/cache", h.UpdateCache)

		// Storage endpoints
		v1.GET("/storage/preview", h.StoragePreview)
		v1.GET("/storage/files", h.StorageFiles)
	}

	return ginRouter
}
