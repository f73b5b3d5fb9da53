package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	googleauth "cvplus-backend/internal/auth"
	"cvplus-backend/internal/sessions"
	"cvplus-backend/internal/shared/config"
	"cvplus-backend/internal/shared/metrics"
	"cvplus-backend/internal/shared/server/middleware"
	"cvplus-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config         config.Config
	SessionHandler *sessions.Handler
	GoogleAuth     *googleauth.GoogleService
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(rateLimitConfig()),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/metrics", metrics.Handler())

	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	registerMeRoutes(api)
	if deps.SessionHandler != nil {
		deps.SessionHandler.RegisterRoutes(api)
	}

	return r
}

// rateLimitConfig allows wizard status polling a higher rate than mutations.
func rateLimitConfig() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"DEFAULT": {Rate: 5, Burst: 20},
			"POLLING": {Rate: 20, Burst: 60},
		},
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/sessions/:sessionId" {
				return "POLLING"
			}
			return "DEFAULT"
		},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
