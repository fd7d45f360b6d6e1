// Package app 提供应用组装与生命周期管理
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"omnigen-api/internal/application/admission"
	"omnigen-api/internal/application/orchestration"
	"omnigen-api/internal/application/tenantctx"
	"omnigen-api/internal/config"
	"omnigen-api/internal/infrastructure/eventbus"
	"omnigen-api/internal/infrastructure/messaging"
	"omnigen-api/internal/infrastructure/persistence/postgres"
	"omnigen-api/internal/infrastructure/persistence/redis"
	"omnigen-api/internal/infrastructure/provider"
	"omnigen-api/internal/interfaces/http/handler"
	"omnigen-api/internal/interfaces/http/router"
	"omnigen-api/pkg/logger"
	"omnigen-api/pkg/tracer"
	"omnigen-api/pkg/utils"
)

// Application 组装后的应用实例
// 所有组件显式构造，依赖方向自底向上
type Application struct {
	Config       *config.Config
	Postgres     *postgres.Client
	Redis        *redis.Client
	Cache        *redis.Cache
	Enforcer     *admission.Enforcer
	Resolver     *tenantctx.Resolver
	Registry     *provider.Registry
	Bus          *eventbus.Bus
	Orchestrator *orchestration.Orchestrator
	Producer     *messaging.Producer
	Audit        *AuditMirror

	httpServer    *http.Server
	tracerCleanup func(context.Context) error
}

// New 组装应用
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	tracerCleanup, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	cache := redis.NewCache(redisClient)
	rateLimiter := redis.NewRateLimiter(redisClient)

	tenantRepo := postgres.NewTenantRepository(pgClient)
	jobRepo := postgres.NewJobRepository(pgClient)
	usageRepo := postgres.NewUsageRepository(pgClient)

	enforcer := admission.NewEnforcer(usageRepo, cfg.Admission)

	jwtManager := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer)
	resolver := tenantctx.NewResolver(cfg.Tenancy, tenantRepo, cache, jwtManager)

	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	bus := eventbus.NewBus(cfg.Orchestrator.EventBufferSize)
	orchestrator := orchestration.NewOrchestrator(cfg.Orchestrator, registry, enforcer, bus, jobRepo, cache)

	producer := messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
	audit := NewAuditMirror(bus, producer)

	generationHandler := handler.NewGenerationHandler(orchestrator, producer)
	jobHandler := handler.NewJobHandler(orchestrator)
	streamHandler := handler.NewStreamHandler(bus)
	tenantHandler := handler.NewTenantHandler(enforcer, usageRepo)
	capabilityHandler := handler.NewCapabilityHandler(registry)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthChecker{
		"postgres": pgClient,
		"redis":    redisClient,
	})

	engine := router.New(&router.Dependencies{
		Config:            cfg,
		Resolver:          resolver,
		RateLimiter:       rateLimiter,
		GenerationHandler: generationHandler,
		JobHandler:        jobHandler,
		StreamHandler:     streamHandler,
		TenantHandler:     tenantHandler,
		CapabilityHandler: capabilityHandler,
		HealthHandler:     healthHandler,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	return &Application{
		Config:        cfg,
		Postgres:      pgClient,
		Redis:         redisClient,
		Cache:         cache,
		Enforcer:      enforcer,
		Resolver:      resolver,
		Registry:      registry,
		Bus:           bus,
		Orchestrator:  orchestrator,
		Producer:      producer,
		Audit:         audit,
		httpServer:    httpServer,
		tracerCleanup: tracerCleanup,
	}, nil
}

// Start 启动后台组件与 HTTP 服务
// HTTP 服务在独立协程中监听，错误写入返回的通道
func (a *Application) Start(ctx context.Context) <-chan error {
	a.Orchestrator.Start()
	a.Audit.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown 优雅关停，按依赖逆序释放资源
func (a *Application) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server shutdown failed", err)
	}

	if err := a.Orchestrator.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "orchestrator stop timed out", err)
	}

	a.Audit.Stop()

	if err := a.Redis.Close(); err != nil {
		logger.Error(shutdownCtx, "redis close failed", err)
	}
	if err := a.Postgres.Close(); err != nil {
		logger.Error(shutdownCtx, "postgres close failed", err)
	}
	if err := a.tracerCleanup(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "tracer shutdown failed", err)
	}

	logger.Info(shutdownCtx, "shutdown complete")
}
