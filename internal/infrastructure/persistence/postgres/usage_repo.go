// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"omnigen-api/internal/domain/entity"
)

// UsageRepository 用量账本仓储实现
type UsageRepository struct {
	client *Client
}

// NewUsageRepository 创建用量仓储
func NewUsageRepository(client *Client) *UsageRepository {
	return &UsageRepository{client: client}
}

// Get 获取某租户某指标在指定周期的账本条目
func (r *UsageRepository) Get(ctx context.Context, tenantID, metric, period string) (*entity.UsageLedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRepository.Get")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var entry entity.UsageLedgerEntry
	if err := db.First(&entry, "tenant_id = ? AND metric = ? AND period = ?", tenantID, metric, period).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get usage entry: %w", err)
	}
	return &entry, nil
}

// Increment 按 (tenant, metric, period) 累加用量，不存在则创建
func (r *UsageRepository) Increment(ctx context.Context, tenantID, metric, period string, amount int64) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageRepository.Increment")
	defer span.End()

	db := getDB(ctx, r.client.db)
	entry := &entity.UsageLedgerEntry{
		TenantID:  tenantID,
		Metric:    metric,
		Period:    period,
		Count:     amount,
		UpdatedAt: time.Now(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "metric"}, {Name: "period"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("usage_ledger_entries.count + ?", amount),
			"updated_at": time.Now(),
		}),
	}).Create(entry).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// ListByTenant 获取租户在指定周期的全部账本条目
func (r *UsageRepository) ListByTenant(ctx context.Context, tenantID, period string) ([]*entity.UsageLedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRepository.ListByTenant")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var entries []*entity.UsageLedgerEntry
	if err := db.Where("tenant_id = ? AND period = ?", tenantID, period).
		Order("metric ASC").
		Find(&entries).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list usage entries: %w", err)
	}
	return entries, nil
}
