// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"omnigen-api/internal/domain/entity"
)

// JobFilter 任务查询过滤条件
type JobFilter struct {
	Capability entity.Capability
	State      entity.JobState
	BatchID    string
}

// JobRepository 终态任务归档仓储接口
type JobRepository interface {
	// Create 归档一条任务记录
	Create(ctx context.Context, job *entity.GenerationJob) error

	// GetByID 根据 ID 获取任务
	GetByID(ctx context.Context, id string) (*entity.GenerationJob, error)

	// Update 更新任务
	Update(ctx context.Context, job *entity.GenerationJob) error

	// ListByTenant 获取租户任务列表
	ListByTenant(ctx context.Context, tenantID string, filter *JobFilter, pagination Pagination) (*PagedResult[*entity.GenerationJob], error)

	// DeleteOlderThan 清理早于指定时间的终态任务
	DeleteOlderThan(ctx context.Context, tenantID string, before int64) error
}
