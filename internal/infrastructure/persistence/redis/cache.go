// Package redis 提供租户配置与任务快照的缓存实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"omnigen-api/internal/domain/entity"
)

var cacheTracer = otel.Tracer("redis.cache")

// Cache 缓存服务
type Cache struct {
	client *Client
}

// NewCache 创建缓存服务
func NewCache(client *Client) *Cache {
	return &Cache{client: client}
}

func tenantKey(id string) string {
	return "tenant:" + id
}

func jobKey(id string) string {
	return "job:snapshot:" + id
}

// GetTenant 获取缓存的租户配置，未命中返回 (nil, nil)
func (c *Cache) GetTenant(ctx context.Context, id string) (*entity.Tenant, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetTenant",
		trace.WithAttributes(attribute.String("tenant.id", id)))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, tenantKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}

	var tenant entity.Tenant
	if err := json.Unmarshal(raw, &tenant); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached tenant: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &tenant, nil
}

// SetTenant 缓存租户配置
// 同一租户可以被 ID、slug、自定义域名三种标识命中，全部写入
func (c *Cache) SetTenant(ctx context.Context, tenant *entity.Tenant, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "cache.SetTenant",
		trace.WithAttributes(attribute.String("tenant.id", tenant.ID)))
	defer span.End()

	raw, err := json.Marshal(tenant)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal tenant: %w", err)
	}

	pipe := c.client.rdb.Pipeline()
	pipe.Set(ctx, tenantKey(tenant.ID), raw, ttl)
	if tenant.Slug != "" && tenant.Slug != tenant.ID {
		pipe.Set(ctx, tenantKey(tenant.Slug), raw, ttl)
	}
	if tenant.CustomDomain != "" {
		pipe.Set(ctx, tenantKey(tenant.CustomDomain), raw, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// InvalidateTenant 使租户缓存失效，计划或状态变更后调用
func (c *Cache) InvalidateTenant(ctx context.Context, tenant *entity.Tenant) error {
	ctx, span := cacheTracer.Start(ctx, "cache.InvalidateTenant",
		trace.WithAttributes(attribute.String("tenant.id", tenant.ID)))
	defer span.End()

	keys := []string{tenantKey(tenant.ID)}
	if tenant.Slug != "" && tenant.Slug != tenant.ID {
		keys = append(keys, tenantKey(tenant.Slug))
	}
	if tenant.CustomDomain != "" {
		keys = append(keys, tenantKey(tenant.CustomDomain))
	}
	return c.client.rdb.Del(ctx, keys...).Err()
}

// SaveJob 缓存终态任务快照，进程重启后仍可按 ID 查询
func (c *Cache) SaveJob(ctx context.Context, job *entity.GenerationJob, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "cache.SaveJob",
		trace.WithAttributes(attribute.String("job.id", job.ID)))
	defer span.End()

	raw, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := c.client.rdb.Set(ctx, jobKey(job.ID), raw, ttl).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// GetJob 获取任务快照，未命中返回 (nil, nil)
func (c *Cache) GetJob(ctx context.Context, jobID string) (*entity.GenerationJob, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetJob",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}

	var job entity.GenerationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached job: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &job, nil
}
