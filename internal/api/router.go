// Package api assembles the HTTP surface: routing, middleware, and handlers.
package api

import (
	"github.com/arash/imagina/internal/api/handler"
	"github.com/arash/imagina/internal/api/middleware"
	"github.com/arash/imagina/internal/config"
	"github.com/arash/imagina/internal/engine"
	"github.com/arash/imagina/internal/logger"
	"github.com/arash/imagina/internal/repository"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with all routes registered.
//
// The webhook route sits outside the authenticated group: the generation
// engine calls it directly and knows nothing about tenant JWTs. Everything
// else under /api/v1 is tenant-scoped and authenticated.
func NewRouter(
	cfg *config.Config,
	imaginations *repository.ImaginationRepository,
	businesses *repository.BusinessRepository,
	eng *engine.Engine,
	log *logger.Logger,
) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	imaginationHandler := handler.NewImaginationHandler(imaginations, eng, log)

	r.GET("/health", handler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/engines", handler.ListEngines)
		v1.POST("/imaginations/:id/webhook", imaginationHandler.Webhook)

		authed := v1.Group("")
		authed.Use(middleware.Tenant(businesses), middleware.Auth())
		{
			authed.POST("/imaginations", imaginationHandler.Create)
			authed.GET("/imaginations", imaginationHandler.List)
			authed.GET("/imaginations/:id", imaginationHandler.Get)
			authed.DELETE("/imaginations/:id", imaginationHandler.Delete)
		}
	}

	return r
}
