// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
)

// JobRepository 任务归档仓储实现
// 只有终态任务会被写入，在途任务以编排器内存注册表为准
type JobRepository struct {
	client *Client
}

// NewJobRepository 创建任务仓储
func NewJobRepository(client *Client) *JobRepository {
	return &JobRepository{client: client}
}

// Create 归档一条任务记录，重复归档按主键覆盖
func (r *JobRepository) Create(ctx context.Context, job *entity.GenerationJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(job).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to archive job: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取任务
func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.GenerationJob, error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var job entity.GenerationJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Update 更新任务
func (r *JobRepository) Update(ctx context.Context, job *entity.GenerationJob) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(job).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// ListByTenant 获取租户任务列表
func (r *JobRepository) ListByTenant(ctx context.Context, tenantID string, filter *repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.GenerationJob], error) {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.ListByTenant")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.GenerationJob{}).Where("tenant_id = ?", tenantID)
	if filter != nil {
		if filter.Capability != "" {
			query = query.Where("capability = ?", filter.Capability)
		}
		if filter.State != "" {
			query = query.Where("state = ?", filter.State)
		}
		if filter.BatchID != "" {
			query = query.Where("batch_id = ?", filter.BatchID)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	var jobs []*entity.GenerationJob
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&jobs).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return repository.NewPagedResult(jobs, total, pagination), nil
}

// DeleteOlderThan 清理早于指定时间（Unix 秒）的终态任务
func (r *JobRepository) DeleteOlderThan(ctx context.Context, tenantID string, before int64) error {
	ctx, span := tracer.Start(ctx, "postgres.JobRepository.DeleteOlderThan")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("tenant_id = ? AND completed_at < ?", tenantID, time.Unix(before, 0)).
		Delete(&entity.GenerationJob{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return nil
}
