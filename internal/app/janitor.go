package app

import (
	"context"
	"sync"
	"time"

	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
	"omnigen-api/internal/infrastructure/persistence/redis"
	"omnigen-api/pkg/logger"
)

// tenantScoper 在数据库租户上下文中执行操作
type tenantScoper interface {
	WithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
}

// Janitor 后台维护巡检
// 过期试用租户停用，归档任务按保留期清理
type Janitor struct {
	tenantRepo repository.TenantRepository
	jobRepo    repository.JobRepository
	txManager  repository.Transactor
	tenantCtx  tenantScoper
	cache      *redis.Cache

	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	wg     sync.WaitGroup
	once   sync.Once
	stopCh chan struct{}
}

// NewJanitor 创建维护巡检
func NewJanitor(
	tenantRepo repository.TenantRepository,
	jobRepo repository.JobRepository,
	txManager repository.Transactor,
	tenantCtx tenantScoper,
	cache *redis.Cache,
	retention, interval time.Duration,
) *Janitor {
	if retention <= 0 {
		retention = 720 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		tenantRepo: tenantRepo,
		jobRepo:    jobRepo,
		txManager:  txManager,
		tenantCtx:  tenantCtx,
		cache:      cache,
		retention:  retention,
		interval:   interval,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start 启动巡检循环
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.sweep(ctx)
			}
		}
	}()
}

// Stop 停止巡检
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// sweep 遍历全部租户执行一轮维护
func (j *Janitor) sweep(ctx context.Context) {
	now := j.now()
	cutoff := now.Add(-j.retention).Unix()

	for page := 1; ; page++ {
		result, err := j.tenantRepo.List(ctx, repository.NewPagination(page, 100))
		if err != nil {
			logger.Error(ctx, "janitor tenant list failed", err, "page", page)
			return
		}

		for _, tenant := range result.Items {
			j.expireTrial(ctx, tenant, now)
			j.purgeArchivedJobs(ctx, tenant.ID, cutoff)
		}

		if page >= result.TotalPages {
			return
		}
	}
}

// expireTrial 停用试用期已结束的租户并使其缓存失效
func (j *Janitor) expireTrial(ctx context.Context, tenant *entity.Tenant, now time.Time) {
	if tenant.Status != entity.TenantStatusTrial || tenant.TrialEndsAt == nil || now.Before(*tenant.TrialEndsAt) {
		return
	}

	if err := j.tenantRepo.UpdateStatus(ctx, tenant.ID, entity.TenantStatusSuspended); err != nil {
		logger.Error(ctx, "janitor trial expiry failed", err, "tenant_id", tenant.ID)
		return
	}
	if j.cache != nil {
		if err := j.cache.InvalidateTenant(ctx, tenant); err != nil {
			logger.Warn(ctx, "janitor cache invalidation failed", "tenant_id", tenant.ID, "error", err.Error())
		}
	}
	logger.Info(ctx, "trial tenant suspended", "tenant_id", tenant.ID)
}

// purgeArchivedJobs 在事务内带租户上下文清理过期归档
// RLS 会话变量仅在事务内生效，删除必须包在同一事务里
func (j *Janitor) purgeArchivedJobs(ctx context.Context, tenantID string, cutoff int64) {
	err := j.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return j.tenantCtx.WithTenant(txCtx, tenantID, func(txCtx context.Context) error {
			return j.jobRepo.DeleteOlderThan(txCtx, tenantID, cutoff)
		})
	})
	if err != nil {
		logger.Error(ctx, "janitor archive purge failed", err, "tenant_id", tenantID)
	}
}
