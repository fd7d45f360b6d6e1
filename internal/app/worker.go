package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"omnigen-api/internal/application/admission"
	"omnigen-api/internal/application/orchestration"
	"omnigen-api/internal/application/tenantctx"
	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/infrastructure/eventbus"
	"omnigen-api/internal/infrastructure/messaging"
	"omnigen-api/internal/infrastructure/persistence/postgres"
	"omnigen-api/internal/infrastructure/persistence/redis"
	"omnigen-api/internal/infrastructure/provider"
	"omnigen-api/pkg/errors"
	"omnigen-api/pkg/logger"
	"omnigen-api/pkg/tracer"
	"omnigen-api/pkg/utils"
)

// dlqAlertThreshold 死信流深度超过该值时告警
const dlqAlertThreshold = 100

// Worker 异步任务执行进程
// 消费生成任务流，经由同一套编排核心执行
type Worker struct {
	Config       *config.Config
	Postgres     *postgres.Client
	Redis        *redis.Client
	Resolver     *tenantctx.Resolver
	Orchestrator *orchestration.Orchestrator
	Audit        *AuditMirror

	consumer      *messaging.Consumer
	auditConsumer *messaging.Consumer
	janitor       *Janitor
	tracerCleanup func(context.Context) error
}

// NewWorker 组装 Worker
func NewWorker(ctx context.Context, cfg *config.Config) (*Worker, error) {
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	tracerCleanup, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name + "-worker",
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

	hostname, _ := os.Hostname()
	streamCfg := cfg.Messaging.RedisStream
	backoff := messaging.BackoffConfig{
		Initial:    streamCfg.RetryBackoff.Initial,
		Max:        streamCfg.RetryBackoff.Max,
		Multiplier: streamCfg.RetryBackoff.Multiplier,
	}
	consumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamGenerationJobs,
		Group:         messaging.ConsumerGroupJobWorker,
		ConsumerName:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		BlockTimeout:  streamCfg.BlockTimeout,
		ClaimInterval: streamCfg.ClaimInterval,
		RetryLimit:    streamCfg.RetryLimit,
		Backoff:       backoff,
	})
	auditConsumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamAuditLog,
		Group:         messaging.ConsumerGroupAuditWriter,
		ConsumerName:  fmt.Sprintf("%s-%d-audit", hostname, os.Getpid()),
		BlockTimeout:  streamCfg.BlockTimeout,
		ClaimInterval: streamCfg.ClaimInterval,
		RetryLimit:    streamCfg.RetryLimit,
		Backoff:       backoff,
	})

	txManager := postgres.NewTxManager(pgClient)
	tenantContext := postgres.NewTenantContext(pgClient)
	janitor := NewJanitor(tenantRepo, jobRepo, txManager, tenantContext, cache,
		cfg.Orchestrator.ArchiveRetention, cfg.Orchestrator.SweepInterval)

	w := &Worker{
		Config:        cfg,
		Postgres:      pgClient,
		Redis:         redisClient,
		Resolver:      resolver,
		Orchestrator:  orchestrator,
		Audit:         audit,
		consumer:      consumer,
		auditConsumer: auditConsumer,
		janitor:       janitor,
		tracerCleanup: tracerCleanup,
	}
	consumer.RegisterHandler("generation_job", w.handleGenerationJob)
	auditConsumer.RegisterHandler("audit", w.handleAuditLog)
	return w, nil
}

// Start 启动消费循环、编排器与维护巡检
func (w *Worker) Start(ctx context.Context) error {
	w.Orchestrator.Start()
	w.Audit.Start()
	w.janitor.Start(ctx)

	if err := w.consumer.Start(ctx); err != nil {
		return err
	}
	if err := w.auditConsumer.Start(ctx); err != nil {
		return err
	}

	go w.consumer.MonitorDLQ(ctx, dlqAlertThreshold)
	return nil
}

// Shutdown 优雅关停，等待在途任务落定
func (w *Worker) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	w.consumer.Stop()
	w.auditConsumer.Stop()
	w.janitor.Stop()

	if err := w.Orchestrator.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "orchestrator stop timed out", err)
	}

	w.Audit.Stop()

	if err := w.Redis.Close(); err != nil {
		logger.Error(shutdownCtx, "redis close failed", err)
	}
	if err := w.Postgres.Close(); err != nil {
		logger.Error(shutdownCtx, "postgres close failed", err)
	}
	if err := w.tracerCleanup(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "tracer shutdown failed", err)
	}

	logger.Info(shutdownCtx, "worker shutdown complete")
}

// handleGenerationJob 消费一条生成任务消息
// 准入通过即确认消息，执行由编排器在后台推进
func (w *Worker) handleGenerationJob(ctx context.Context, msg *messaging.Message) error {
	var payload messaging.GenerationJobMessage
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("malformed generation job payload: %w", err)
	}

	tenant, err := w.Resolver.LoadTenant(ctx, payload.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", payload.TenantID, err)
	}
	if tenant == nil {
		// 租户不存在的消息无法修复，交给重试上限送入死信流
		return fmt.Errorf("tenant %s not found", payload.TenantID)
	}

	_, err = w.Orchestrator.SubmitWithID(ctx, tenant, payload.UserID,
		entity.Capability(payload.Capability), payload.Input, payload.Options,
		payload.JobID, payload.BatchID)
	if err != nil {
		appErr := errors.AsAppError(err)
		// 配额耗尽可在下个周期恢复，保留重试机会
		logger.Warn(ctx, "job admission rejected",
			"job_id", payload.JobID,
			"code", string(appErr.Code),
			"error", err.Error(),
		)
		return err
	}

	logger.Info(ctx, "job accepted from stream", "job_id", payload.JobID, "capability", payload.Capability)
	return nil
}

// handleAuditLog 消费审计流，把审计事件落为结构化日志
// 日志管道即审计存储，坏消息直接确认避免反复重投
func (w *Worker) handleAuditLog(ctx context.Context, msg *messaging.Message) error {
	var payload messaging.AuditLogMessage
	if err := msg.UnmarshalPayload(&payload); err != nil {
		logger.Warn(ctx, "malformed audit payload dropped", "message_id", msg.ID, "error", err.Error())
		return nil
	}

	logger.Info(ctx, "audit",
		"action", payload.Action,
		"tenant_id", payload.TenantID,
		"user_id", payload.UserID,
		"job_id", payload.JobID,
		"metric", payload.Metric,
		"request_id", payload.RequestID,
		"occurred_at", payload.OccurredAt,
	)
	return nil
}
