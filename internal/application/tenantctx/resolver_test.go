package tenantctx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
	"omnigen-api/pkg/errors"
	"omnigen-api/pkg/utils"
)

type fakeTenantRepo struct {
	mu      sync.Mutex
	byID    map[string]*entity.Tenant
	bySlug  map[string]*entity.Tenant
	lookups int
}

func newFakeTenantRepo(tenants ...*entity.Tenant) *fakeTenantRepo {
	r := &fakeTenantRepo{
		byID:   make(map[string]*entity.Tenant),
		bySlug: make(map[string]*entity.Tenant),
	}
	for _, t := range tenants {
		r.byID[t.ID] = t
		if t.Slug != "" {
			r.bySlug[t.Slug] = t
		}
	}
	return r
}

func (r *fakeTenantRepo) GetByID(_ context.Context, id string) (*entity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	return r.byID[id], nil
}

func (r *fakeTenantRepo) GetBySlug(_ context.Context, slug string) (*entity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySlug[slug], nil
}

func (r *fakeTenantRepo) GetByCustomDomain(_ context.Context, _ string) (*entity.Tenant, error) {
	return nil, nil
}

func (r *fakeTenantRepo) List(_ context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.Tenant], error) {
	return repository.NewPagedResult[*entity.Tenant](nil, 0, pagination), nil
}

func (r *fakeTenantRepo) UpdateStatus(_ context.Context, _ string, _ entity.TenantStatus) error {
	return nil
}

type fakeTenantCache struct {
	mu      sync.Mutex
	tenants map[string]*entity.Tenant
}

func newFakeTenantCache() *fakeTenantCache {
	return &fakeTenantCache{tenants: make(map[string]*entity.Tenant)}
}

func (c *fakeTenantCache) GetTenant(_ context.Context, id string) (*entity.Tenant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenants[id], nil
}

func (c *fakeTenantCache) SetTenant(_ context.Context, tenant *entity.Tenant, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants[tenant.ID] = tenant
	if tenant.Slug != "" {
		c.tenants[tenant.Slug] = tenant
	}
	return nil
}

func testTenancyConfig() config.TenancyConfig {
	return config.TenancyConfig{
		BaseDomain:         "omnigen.app",
		ReservedSubdomains: []string{"www", "api", "admin"},
		CustomDomains:      map[string]string{"studio.acme.com": "tenant-acme"},
		PathPrefix:         "/tenant/",
		HeaderName:         "X-Tenant-ID",
		QueryParam:         "tenant",
	}
}

func TestExtractIdentifierPrecedence(t *testing.T) {
	r := NewResolver(testTenancyConfig(), newFakeTenantRepo(), nil, nil)

	tests := []struct {
		name         string
		meta         RequestMeta
		wantID       string
		wantStrategy string
	}{
		{
			name:         "custom domain wins over everything",
			meta:         RequestMeta{Host: "studio.acme.com", Path: "/tenant/other", TenantHeader: "header-tenant"},
			wantID:       "tenant-acme",
			wantStrategy: "custom_domain",
		},
		{
			name:         "subdomain",
			meta:         RequestMeta{Host: "acme.omnigen.app", TenantHeader: "header-tenant"},
			wantID:       "acme",
			wantStrategy: "subdomain",
		},
		{
			name:         "subdomain with port",
			meta:         RequestMeta{Host: "acme.omnigen.app:8080"},
			wantID:       "acme",
			wantStrategy: "subdomain",
		},
		{
			name:         "reserved subdomain falls through to header",
			meta:         RequestMeta{Host: "www.omnigen.app", TenantHeader: "header-tenant"},
			wantID:       "header-tenant",
			wantStrategy: "header",
		},
		{
			name:         "path prefix",
			meta:         RequestMeta{Host: "other.example.com", Path: "/tenant/acme/jobs"},
			wantID:       "acme",
			wantStrategy: "path_prefix",
		},
		{
			name:         "header",
			meta:         RequestMeta{Host: "other.example.com", Path: "/v1/jobs", TenantHeader: "tenant-h", QueryTenant: "tenant-q"},
			wantID:       "tenant-h",
			wantStrategy: "header",
		},
		{
			name:         "query param",
			meta:         RequestMeta{Host: "other.example.com", Path: "/v1/jobs", QueryTenant: "tenant-q"},
			wantID:       "tenant-q",
			wantStrategy: "query",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, strategy, err := r.ExtractIdentifier(tt.meta)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantStrategy, strategy)
		})
	}
}

func TestExtractIdentifierTokenClaim(t *testing.T) {
	jwtManager := utils.NewJWTManager("test-secret", "omnigen")
	token, err := jwtManager.GenerateToken("tenant-jwt", "user-1", "member", "access", time.Hour)
	require.NoError(t, err)

	r := NewResolver(testTenancyConfig(), newFakeTenantRepo(), nil, jwtManager)

	id, strategy, err := r.ExtractIdentifier(RequestMeta{
		Host:        "other.example.com",
		Path:        "/v1/jobs",
		BearerToken: token,
		QueryTenant: "tenant-q",
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-jwt", id)
	assert.Equal(t, "token_claim", strategy)
}

func TestExtractIdentifierDefaultAndUnresolved(t *testing.T) {
	cfg := testTenancyConfig()
	cfg.DefaultTenantID = "tenant-dev"
	r := NewResolver(cfg, newFakeTenantRepo(), nil, nil)

	id, strategy, err := r.ExtractIdentifier(RequestMeta{Host: "other.example.com", Path: "/v1/jobs"})
	require.NoError(t, err)
	assert.Equal(t, "tenant-dev", id)
	assert.Equal(t, "default", strategy)

	cfg.DefaultTenantID = ""
	r = NewResolver(cfg, newFakeTenantRepo(), nil, nil)
	_, _, err = r.ExtractIdentifier(RequestMeta{Host: "other.example.com", Path: "/v1/jobs"})
	assert.ErrorIs(t, err, errors.ErrTenantUnresolved)
}

func TestResolveLoadsAndDerivesView(t *testing.T) {
	tenant := &entity.Tenant{
		ID:       "tenant-1",
		Slug:     "acme",
		Status:   entity.TenantStatusActive,
		PlanTier: "pro",
		Usage: map[string]*entity.UsageCounter{
			"video_generation": {Used: 5, Limit: 10},
		},
	}
	repo := newFakeTenantRepo(tenant)
	r := NewResolver(testTenancyConfig(), repo, nil, nil)

	got, view, err := r.Resolve(context.Background(), RequestMeta{Host: "acme.omnigen.app"})
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", got.ID)
	assert.Equal(t, "pro", view.PlanTier)
	assert.Equal(t, int64(10), view.Limits["video_generation"])
}

func TestResolveSuspendedTenant(t *testing.T) {
	tenant := &entity.Tenant{ID: "tenant-1", Slug: "acme", Status: entity.TenantStatusSuspended}
	r := NewResolver(testTenancyConfig(), newFakeTenantRepo(tenant), nil, nil)

	_, _, err := r.Resolve(context.Background(), RequestMeta{Host: "acme.omnigen.app"})
	assert.ErrorIs(t, err, errors.ErrTenantSuspended)
}

func TestResolveUnknownTenant(t *testing.T) {
	r := NewResolver(testTenancyConfig(), newFakeTenantRepo(), nil, nil)

	_, _, err := r.Resolve(context.Background(), RequestMeta{Host: "ghost.omnigen.app"})
	assert.ErrorIs(t, err, errors.ErrTenantNotFound)
}

func TestLoadTenantUsesCache(t *testing.T) {
	tenant := &entity.Tenant{ID: "tenant-1", Slug: "acme", Status: entity.TenantStatusActive}
	repo := newFakeTenantRepo(tenant)
	cache := newFakeTenantCache()
	r := NewResolver(testTenancyConfig(), repo, cache, nil)
	ctx := context.Background()

	got, err := r.LoadTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	first := repo.lookups

	// 第二次命中缓存，不再回源
	got, err = r.LoadTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first, repo.lookups)
}
