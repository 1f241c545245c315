package router

import (
	"github.com/gin-gonic/gin"

	"github.com/phonginreallife/autoanswer/handlers"
)

// Dependencies are the already-wired components the HTTP surface exposes.
type Dependencies struct {
	Auth         *handlers.AuthHandler
	Token        *handlers.TokenHandler
	HealthChecks map[string]handlers.HealthCheck
}

func NewGinRouter(deps Dependencies) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// PUBLIC ENDPOINTS
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)
	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.POST("/login", deps.Auth.Login)

	// ADMIN ENDPOINTS (session token required)
	protected := api.Group("")
	protected.Use(deps.Auth.AuthMiddleware())
	{
		tokenRoutes := protected.Group("/token")
		{
			tokenRoutes.GET("/status", deps.Token.GetTokenStatus)
			tokenRoutes.PUT("", deps.Token.SetToken)
			tokenRoutes.POST("/refresh", deps.Token.RefreshToken)
		}

		protected.GET("/worker/stats", deps.Token.GetWorkerStats)
	}

	return r
}
