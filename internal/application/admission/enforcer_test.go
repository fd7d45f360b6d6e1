package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/pkg/errors"
)

type fakeUsageRepo struct {
	mu      sync.Mutex
	entries map[string]*entity.UsageLedgerEntry
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{entries: make(map[string]*entity.UsageLedgerEntry)}
}

func (r *fakeUsageRepo) key(tenantID, metric, period string) string {
	return tenantID + "|" + metric + "|" + period
}

func (r *fakeUsageRepo) Get(_ context.Context, tenantID, metric, period string) (*entity.UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[r.key(tenantID, metric, period)]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (r *fakeUsageRepo) Increment(_ context.Context, tenantID, metric, period string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(tenantID, metric, period)
	if entry, ok := r.entries[k]; ok {
		entry.Count += amount
		return nil
	}
	r.entries[k] = &entity.UsageLedgerEntry{TenantID: tenantID, Metric: metric, Period: period, Count: amount}
	return nil
}

func (r *fakeUsageRepo) ListByTenant(_ context.Context, tenantID, period string) ([]*entity.UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.UsageLedgerEntry
	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.Period == period {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func quotaTenant(limit int64) *entity.Tenant {
	return &entity.Tenant{
		ID:     "tenant-1",
		Status: entity.TenantStatusActive,
		Usage: map[string]*entity.UsageCounter{
			"video_generation": {Used: 0, Limit: limit, PeriodStart: time.Now()},
		},
	}
}

func TestAdmitWithinLimit(t *testing.T) {
	e := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{})
	tenant := quotaTenant(3)

	decision, err := e.Admit(context.Background(), tenant, "video_generation")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(3), decision.Limit)
	assert.Equal(t, int64(3), decision.Remaining)
}

func TestAdmitDeniedAtLimit(t *testing.T) {
	e := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{})
	tenant := quotaTenant(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Admit(ctx, tenant, "video_generation")
		require.NoError(t, err)
	}

	decision, err := e.Admit(ctx, tenant, "video_generation")
	require.Error(t, err)
	assert.False(t, decision.Allowed)

	var qe *errors.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "tenant-1", qe.TenantID)
	assert.Equal(t, "video_generation", qe.Metric)
	assert.Equal(t, int64(2), qe.Limit)
	assert.Equal(t, int64(2), qe.Used)
	assert.NotEmpty(t, qe.ResetDate)
}

func TestConcurrentAdmitAtBoundary(t *testing.T) {
	e := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{})
	tenant := quotaTenant(1)
	ctx := context.Background()

	const workers = 32
	var allowed int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Admit(ctx, tenant, "video_generation"); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 剩 1 个名额时并发请求恰好放行一个
	assert.Equal(t, int64(1), allowed)
}

func TestConcurrentCommitsNoLostUpdates(t *testing.T) {
	repo := newFakeUsageRepo()
	e := NewEnforcer(repo, config.AdmissionConfig{CommitAsync: false})
	tenant := quotaTenant(100)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Admit(ctx, tenant, "video_generation"); err != nil {
				return
			}
			e.Commit(ctx, tenant.ID, "video_generation", 1)
		}()
	}
	wg.Wait()

	// 并发提交逐一累加，计数与账本都不丢更新
	used, limit := e.Snapshot(ctx, tenant, "video_generation")
	assert.Equal(t, int64(workers), used)
	assert.Equal(t, int64(100), limit)

	entry, err := repo.Get(ctx, tenant.ID, "video_generation", entity.PeriodOf(time.Now()))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(workers), entry.Count)
}

func TestCommitPersistsUsage(t *testing.T) {
	repo := newFakeUsageRepo()
	e := NewEnforcer(repo, config.AdmissionConfig{CommitAsync: false})
	tenant := quotaTenant(10)
	ctx := context.Background()

	_, err := e.Admit(ctx, tenant, "video_generation")
	require.NoError(t, err)
	e.Commit(ctx, tenant.ID, "video_generation", 1)

	used, limit := e.Snapshot(ctx, tenant, "video_generation")
	assert.Equal(t, int64(1), used)
	assert.Equal(t, int64(10), limit)

	entry, err := repo.Get(ctx, tenant.ID, "video_generation", entity.PeriodOf(time.Now()))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.Count)
}

func TestReleaseRestoresReservation(t *testing.T) {
	e := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{})
	tenant := quotaTenant(1)
	ctx := context.Background()

	_, err := e.Admit(ctx, tenant, "video_generation")
	require.NoError(t, err)

	_, err = e.Admit(ctx, tenant, "video_generation")
	require.Error(t, err)

	e.Release(tenant.ID, "video_generation", 1)

	_, err = e.Admit(ctx, tenant, "video_generation")
	assert.NoError(t, err)
}

func TestBypassAllowsAndSkipsReservation(t *testing.T) {
	e := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{BypassEnabled: true})
	tenant := quotaTenant(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Admit(ctx, tenant, "video_generation")
		require.NoError(t, err)
	}
}

func TestUnknownMetricPolicy(t *testing.T) {
	tenant := quotaTenant(5)
	ctx := context.Background()

	closed := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{})
	_, err := closed.Admit(ctx, tenant, "nonexistent_metric")
	assert.Error(t, err)

	open := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{UnknownMetricOpen: true})
	decision, err := open.Admit(ctx, tenant, "nonexistent_metric")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(-1), decision.Limit)
}

func TestPeriodRolloverResetsUsage(t *testing.T) {
	e := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{CommitAsync: false})
	tenant := quotaTenant(2)
	ctx := context.Background()

	current := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		_, err := e.Admit(ctx, tenant, "video_generation")
		require.NoError(t, err)
		e.Commit(ctx, tenant.ID, "video_generation", 1)
	}
	_, err := e.Admit(ctx, tenant, "video_generation")
	require.Error(t, err)

	// 跨周期后读到新周期，计数清零
	current = time.Date(2026, 9, 1, 0, 0, 1, 0, time.UTC)
	decision, err := e.Admit(ctx, tenant, "video_generation")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckAdmissionDoesNotReserve(t *testing.T) {
	e := NewEnforcer(newFakeUsageRepo(), config.AdmissionConfig{})
	tenant := quotaTenant(1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision := e.CheckAdmission(ctx, tenant, "video_generation")
		assert.True(t, decision.Allowed)
	}

	_, err := e.Admit(ctx, tenant, "video_generation")
	assert.NoError(t, err)
}
