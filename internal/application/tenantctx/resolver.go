// Package tenantctx 提供租户解析与租户配置装载能力
package tenantctx

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
	"omnigen-api/pkg/errors"
	"omnigen-api/pkg/logger"
	"omnigen-api/pkg/utils"
)

// RequestMeta 入站请求中用于租户解析的寻址元数据
type RequestMeta struct {
	Host         string
	Path         string
	TenantHeader string
	BearerToken  string
	QueryTenant  string
}

// TenantCache 租户配置缓存接口
type TenantCache interface {
	GetTenant(ctx context.Context, id string) (*entity.Tenant, error)
	SetTenant(ctx context.Context, tenant *entity.Tenant, ttl time.Duration) error
}

// Resolver 租户解析器
// 按固定策略顺序提取租户标识，并带 TTL 缓存装载租户配置
type Resolver struct {
	cfg        config.TenancyConfig
	tenantRepo repository.TenantRepository
	cache      TenantCache
	jwtManager *utils.JWTManager
	sf         singleflight.Group
	now        func() time.Time
}

// NewResolver 创建租户解析器
func NewResolver(cfg config.TenancyConfig, tenantRepo repository.TenantRepository, cache TenantCache, jwtManager *utils.JWTManager) *Resolver {
	return &Resolver{
		cfg:        cfg,
		tenantRepo: tenantRepo,
		cache:      cache,
		jwtManager: jwtManager,
		now:        time.Now,
	}
}

// ExtractIdentifier 按策略顺序提取租户标识，返回标识与命中的策略名
// 顺序：自定义域名 > 子域名 > 路径前缀 > Header > Token 声明 > 查询参数 > 默认值
func (r *Resolver) ExtractIdentifier(meta RequestMeta) (string, string, error) {
	host := stripPort(strings.ToLower(strings.TrimSpace(meta.Host)))

	// 1. 自定义域名映射
	if id, ok := r.cfg.CustomDomains[host]; ok && id != "" {
		return id, "custom_domain", nil
	}

	// 2. 保留词之外的子域名
	if r.cfg.BaseDomain != "" && strings.HasSuffix(host, "."+r.cfg.BaseDomain) {
		sub := strings.TrimSuffix(host, "."+r.cfg.BaseDomain)
		if sub != "" && !strings.Contains(sub, ".") && !r.reserved(sub) {
			return sub, "subdomain", nil
		}
	}

	// 3. 路径前缀 /tenant/{id}
	if r.cfg.PathPrefix != "" && strings.HasPrefix(meta.Path, r.cfg.PathPrefix) {
		rest := strings.TrimPrefix(meta.Path, r.cfg.PathPrefix)
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			rest = rest[:idx]
		}
		if rest != "" {
			return rest, "path_prefix", nil
		}
	}

	// 4. 显式 Header
	if id := strings.TrimSpace(meta.TenantHeader); id != "" {
		return id, "header", nil
	}

	// 5. 已有认证 Token 中的租户声明
	if r.jwtManager != nil && meta.BearerToken != "" {
		if claims, err := r.jwtManager.ParseToken(meta.BearerToken); err == nil && claims.TenantID != "" {
			return claims.TenantID, "token_claim", nil
		}
	}

	// 6. 显式查询参数
	if id := strings.TrimSpace(meta.QueryTenant); id != "" {
		return id, "query", nil
	}

	// 7. 非生产环境的默认租户
	if r.cfg.DefaultTenantID != "" {
		return r.cfg.DefaultTenantID, "default", nil
	}

	return "", "", errors.ErrTenantUnresolved
}

// Resolve 解析请求所属租户并装载配置
func (r *Resolver) Resolve(ctx context.Context, meta RequestMeta) (*entity.Tenant, *entity.ConfigView, error) {
	id, strategy, err := r.ExtractIdentifier(meta)
	if err != nil {
		return nil, nil, err
	}

	tenant, err := r.LoadTenant(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if tenant == nil {
		return nil, nil, errors.ErrTenantNotFound
	}

	now := r.now()
	if !tenant.IsActive(now) {
		return nil, nil, errors.ErrTenantSuspended
	}

	logger.Debug(ctx, "tenant resolved",
		"tenant_id", tenant.ID,
		"strategy", strategy,
	)

	return tenant, tenant.DeriveView(now), nil
}

// LoadTenant 装载租户配置，TTL 缓存避免每个请求都打到协作方
// singleflight 合并同一标识的并发装载
func (r *Resolver) LoadTenant(ctx context.Context, id string) (*entity.Tenant, error) {
	if r.cache != nil {
		if tenant, err := r.cache.GetTenant(ctx, id); err == nil && tenant != nil {
			return tenant, nil
		}
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		tenant, err := r.tenantRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tenant == nil {
			// 子域名策略产出的是 slug 而非主键
			tenant, err = r.tenantRepo.GetBySlug(ctx, id)
			if err != nil {
				return nil, err
			}
		}
		if tenant == nil {
			tenant, err = r.tenantRepo.GetByCustomDomain(ctx, id)
			if err != nil {
				return nil, err
			}
		}

		if tenant != nil && r.cache != nil {
			ttl := r.cfg.CacheTTL
			if ttl <= 0 {
				ttl = 5 * time.Minute
			}
			if cacheErr := r.cache.SetTenant(ctx, tenant, ttl); cacheErr != nil {
				logger.Warn(ctx, "failed to cache tenant", "tenant_id", tenant.ID, "error", cacheErr.Error())
			}
		}
		return tenant, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	tenant, _ := result.(*entity.Tenant)
	return tenant, nil
}

// reserved 检查子域名是否为保留词
func (r *Resolver) reserved(sub string) bool {
	for _, s := range r.cfg.ReservedSubdomains {
		if strings.EqualFold(s, sub) {
			return true
		}
	}
	return false
}

// stripPort 去掉 Host 中的端口部分
func stripPort(host string) string {
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return host
}
