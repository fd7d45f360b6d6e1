package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
)

type fakeTenantStore struct {
	mu       sync.Mutex
	tenants  []*entity.Tenant
	statuses map[string]entity.TenantStatus
}

func (s *fakeTenantStore) GetByID(_ context.Context, id string) (*entity.Tenant, error) {
	for _, t := range s.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (s *fakeTenantStore) GetBySlug(context.Context, string) (*entity.Tenant, error) {
	return nil, nil
}

func (s *fakeTenantStore) GetByCustomDomain(context.Context, string) (*entity.Tenant, error) {
	return nil, nil
}

func (s *fakeTenantStore) List(_ context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.Tenant], error) {
	return repository.NewPagedResult(s.tenants, int64(len(s.tenants)), pagination), nil
}

func (s *fakeTenantStore) UpdateStatus(_ context.Context, id string, status entity.TenantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]entity.TenantStatus)
	}
	s.statuses[id] = status
	return nil
}

type fakeJobStore struct {
	mu      sync.Mutex
	deletes map[string]int64
}

func (s *fakeJobStore) Create(context.Context, *entity.GenerationJob) error { return nil }

func (s *fakeJobStore) GetByID(context.Context, string) (*entity.GenerationJob, error) {
	return nil, nil
}

func (s *fakeJobStore) Update(context.Context, *entity.GenerationJob) error { return nil }

func (s *fakeJobStore) ListByTenant(_ context.Context, _ string, _ *repository.JobFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.GenerationJob], error) {
	return repository.NewPagedResult[*entity.GenerationJob](nil, 0, pagination), nil
}

func (s *fakeJobStore) DeleteOlderThan(_ context.Context, tenantID string, before int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deletes == nil {
		s.deletes = make(map[string]int64)
	}
	s.deletes[tenantID] = before
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingScoper struct {
	mu      sync.Mutex
	tenants []string
}

func (s *recordingScoper) WithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.tenants = append(s.tenants, tenantID)
	s.mu.Unlock()
	return fn(ctx)
}

func TestJanitorSweep(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	active := now.Add(48 * time.Hour)

	tenants := &fakeTenantStore{tenants: []*entity.Tenant{
		{ID: "tenant-active", Status: entity.TenantStatusActive},
		{ID: "tenant-trial-ok", Status: entity.TenantStatusTrial, TrialEndsAt: &active},
		{ID: "tenant-trial-over", Status: entity.TenantStatusTrial, TrialEndsAt: &expired},
	}}
	jobs := &fakeJobStore{}
	scoper := &recordingScoper{}

	j := NewJanitor(tenants, jobs, passthroughTx{}, scoper, nil, 24*time.Hour, time.Hour)
	j.now = func() time.Time { return now }

	j.sweep(context.Background())

	// 只有试用期已结束的租户被停用
	require.Len(t, tenants.statuses, 1)
	assert.Equal(t, entity.TenantStatusSuspended, tenants.statuses["tenant-trial-over"])

	// 每个租户都清理了保留期外的归档
	cutoff := now.Add(-24 * time.Hour).Unix()
	require.Len(t, jobs.deletes, 3)
	assert.Equal(t, cutoff, jobs.deletes["tenant-active"])

	// 清理在租户上下文中执行
	assert.ElementsMatch(t, []string{"tenant-active", "tenant-trial-ok", "tenant-trial-over"}, scoper.tenants)
}
