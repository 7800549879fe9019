package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"estatesettle/internal/handlers"
	"estatesettle/internal/middleware"
)

// Options configures the router's cross-cutting middleware.
type Options struct {
	AllowedOrigins []string
	JWTSecret      []byte
	RateLimit      float64
	RateBurst      int
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.Any("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})

	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[o] = true
	}
	r.Use(cors.New(cors.Config{
		// an empty list allows no cross-origin callers
		AllowOriginFunc:  func(origin string) bool { return allowed["*"] || allowed[origin] },
		AllowMethods:     []string{"POST", "OPTIONS", "GET", "PUT", "DELETE", "PATCH"},
		AllowHeaders:     []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Origin", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))

	api := r.Group("", middleware.JWT(opts.JWTSecret))
	if opts.RateLimit > 0 {
		api.Use(middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
			RequestsPerSecond: opts.RateLimit,
			Burst:             opts.RateBurst,
		}))
	}
	operator := api.Group("", middleware.RequireRole(middleware.RoleOperator))

	SetupDistributionRoutes(api, operator, h)
	SetupGovernanceRoutes(api, h)
	SetupTreasuryRoutes(api, h)
	SetupNotificationRoutes(api, h)
	SetupSystemRoutes(operator, h)

	return r
}
