package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hack3ric/hive/internal/api/handlers"
	"github.com/hack3ric/hive/internal/api/middleware"
	"github.com/hack3ric/hive/internal/config"
)

func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg)))

	router.GET("/", server.Hello)
	router.GET("/healthz", server.Health)
	router.GET("/system", server.System)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Management API; service dispatch below stays public.
	authed := router.Group("/services", middleware.Auth(middleware.AuthConfig{
		TokenHash: cfg.Auth.TokenHash,
		JWTSecret: cfg.Auth.JWTSecret,
	}))
	authed.GET("", server.ListServices)
	authed.POST("", server.CreateService)
	authed.GET("/:name", server.GetService)
	authed.PUT("/:name", server.UpdateService)
	authed.PATCH("/:name", server.StartStopService)
	authed.DELETE("/:name", server.RemoveService)

	// Everything else is a service invocation: /<service>/<sub-path>.
	router.NoRoute(server.Dispatch)

	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}

	origins := sanitizeAllowedOrigins(cfg.Server.AllowedOrigins)
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
		return corsCfg
	}
	corsCfg.AllowOrigins = origins
	return corsCfg
}

func sanitizeAllowedOrigins(origins []string) []string {
	cleaned := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		cleaned = append(cleaned, origin)
	}
	return cleaned
}
