// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"omnigen-api/internal/domain/entity"
)

// TenantRepository 租户管理协作方接口
// 本核心只读取租户配置并回写用量增量，计划变更由外部租户管理系统负责
type TenantRepository interface {
	// GetByID 根据 ID 获取租户
	GetByID(ctx context.Context, id string) (*entity.Tenant, error)

	// GetBySlug 根据子域名 Slug 获取租户
	GetBySlug(ctx context.Context, slug string) (*entity.Tenant, error)

	// GetByCustomDomain 根据自定义域名获取租户
	GetByCustomDomain(ctx context.Context, domain string) (*entity.Tenant, error)

	// List 获取租户列表
	List(ctx context.Context, pagination Pagination) (*PagedResult[*entity.Tenant], error)

	// UpdateStatus 更新租户状态
	UpdateStatus(ctx context.Context, id string, status entity.TenantStatus) error
}
