package server

import (
	"github.com/gin-gonic/gin"
	"github.com/nexuscloud/nexus/internal/auth"
	"github.com/nexuscloud/nexus/internal/config"
	"github.com/nexuscloud/nexus/internal/file"
	"github.com/nexuscloud/nexus/internal/logger"
	"github.com/nexuscloud/nexus/internal/metrics"
	"github.com/nexuscloud/nexus/internal/quota"
	"go.uber.org/zap"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config       config.Config
	Logger       *zap.Logger
	DB           Pinger
	Blobs        Pinger
	Tokens       auth.TokenValidator
	FileService  *file.Service
	QuotaService *quota.Service
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.MiddlewareWith(deps.Logger))
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	if path := deps.Config.Metrics.PrometheusPath; path != "" {
		metrics.Register(router, path)
	}

	if deps.Tokens == nil {
		return router
	}

	api := router.Group("/v1")
	api.Use(auth.AuthMiddleware(deps.Tokens))

	if deps.FileService != nil {
		file.RegisterRoutes(api, deps.FileService)
	}
	if deps.QuotaService != nil {
		quota.RegisterRoutes(api, deps.QuotaService)
		quota.RegisterAdminRoutes(api, deps.QuotaService)
	}

	return router
}
