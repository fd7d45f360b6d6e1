// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"omnigen-api/internal/domain/entity"
)

// UsageRepository 用量账本仓储接口
// 仅由 QuotaEnforcer 写入，其余组件只能通过 enforcer 的 API 读取
type UsageRepository interface {
	// Get 获取某租户某指标在指定周期的账本条目
	Get(ctx context.Context, tenantID, metric, period string) (*entity.UsageLedgerEntry, error)

	// Increment 按 (tenant, metric, period) 累加用量，不存在则创建
	Increment(ctx context.Context, tenantID, metric, period string, amount int64) error

	// ListByTenant 获取租户在指定周期的全部账本条目
	ListByTenant(ctx context.Context, tenantID, period string) ([]*entity.UsageLedgerEntry, error)
}
