// Package router 提供路由注册
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omnigen-api/internal/application/tenantctx"
	"omnigen-api/internal/config"
	"omnigen-api/internal/interfaces/http/handler"
	"omnigen-api/internal/interfaces/http/middleware"
)

// Dependencies 路由依赖
type Dependencies struct {
	Config            *config.Config
	Resolver          *tenantctx.Resolver
	RateLimiter       middleware.RateLimiter
	GenerationHandler *handler.GenerationHandler
	JobHandler        *handler.JobHandler
	StreamHandler     *handler.StreamHandler
	TenantHandler     *handler.TenantHandler
	CapabilityHandler *handler.CapabilityHandler
	HealthHandler     *handler.HealthHandler
}

// New 创建 Gin 引擎并注册全部路由
func New(deps *Dependencies) *gin.Engine {
	cfg := deps.Config

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Trace(cfg.App.Name))
	engine.Use(middleware.TraceContext())
	engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: cfg.Security.CORS.AllowedHeaders,
	}))
	engine.Use(middleware.Metrics())

	// 探针与指标不经过租户解析
	engine.GET("/health", deps.HealthHandler.Health)
	engine.GET("/live", deps.HealthHandler.Live)
	engine.GET("/ready", deps.HealthHandler.Ready)
	if cfg.Observability.Metrics.Enabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := engine.Group("/v1")
	v1.Use(middleware.Tenant(deps.Resolver, cfg.Tenancy.QueryParam, cfg.Tenancy.HeaderName))
	v1.Use(middleware.Auth(middleware.AuthConfig{
		Secret:    cfg.Security.JWT.Secret,
		Issuer:    cfg.Security.JWT.Issuer,
		SkipPaths: middleware.DefaultSkipPaths,
		Enabled:   cfg.Security.JWT.Enabled,
	}))
	v1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Enabled:           cfg.Security.RateLimit.Enabled,
		RequestsPerSecond: cfg.Security.RateLimit.RequestsPerSecond,
		Burst:             cfg.Security.RateLimit.Burst,
	}, deps.RateLimiter))

	{
		v1.POST("/generations", deps.GenerationHandler.Submit)
		v1.POST("/generations/batch", deps.GenerationHandler.SubmitBatch)

		v1.GET("/jobs", deps.JobHandler.List)
		v1.GET("/jobs/:id", deps.JobHandler.Get)
		v1.POST("/jobs/:id/cancel", deps.JobHandler.Cancel)

		v1.GET("/batches/:id", deps.JobHandler.GetBatch)

		v1.GET("/events/stream", deps.StreamHandler.Stream)

		v1.GET("/tenant", deps.TenantHandler.Get)
		v1.GET("/tenant/usage", deps.TenantHandler.Usage)
		v1.GET("/capabilities", deps.CapabilityHandler.List)
	}

	return engine
}
