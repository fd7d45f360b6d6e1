package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTenantIsActive(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	soon := now.Add(48 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name   string
		tenant Tenant
		want   bool
	}{
		{"active", Tenant{Status: TenantStatusActive}, true},
		{"suspended", Tenant{Status: TenantStatusSuspended}, false},
		{"trial within period", Tenant{Status: TenantStatusTrial, TrialEndsAt: &soon}, true},
		{"trial expired", Tenant{Status: TenantStatusTrial, TrialEndsAt: &past}, false},
		{"trial without deadline", Tenant{Status: TenantStatusTrial}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tenant.IsActive(now))
		})
	}
}

func TestFeatureEnabled(t *testing.T) {
	tenant := &Tenant{Features: map[string]bool{"video_generation": true, "ai_tokens": false}}

	assert.True(t, tenant.FeatureEnabled("video_generation"))
	assert.False(t, tenant.FeatureEnabled("ai_tokens"))
	assert.False(t, tenant.FeatureEnabled("unknown"))

	empty := &Tenant{}
	assert.False(t, empty.FeatureEnabled("video_generation"))
}

func TestDeriveView(t *testing.T) {
	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	trialEnd := now.Add(72 * time.Hour)

	tenant := &Tenant{
		ID:       "tenant-1",
		PlanTier: "pro",
		Status:   TenantStatusTrial,
		Features: map[string]bool{"video_generation": true},
		Usage: map[string]*UsageCounter{
			"video_generation": {Used: 25, Limit: 100},
			"ai_tokens":        {Used: 0, Limit: 0},
		},
		TrialEndsAt: &trialEnd,
	}

	view := tenant.DeriveView(now)
	assert.Equal(t, "tenant-1", view.TenantID)
	assert.Equal(t, int64(100), view.Limits["video_generation"])
	assert.InDelta(t, 25.0, view.UsagePercent["video_generation"], 0.001)
	// limit 为 0 的指标不计算百分比
	assert.NotContains(t, view.UsagePercent, "ai_tokens")
	assert.Equal(t, 3, view.TrialDaysLeft)
}

func TestPeriodHelpers(t *testing.T) {
	at := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, "2026-08", PeriodOf(at))
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), PeriodStartOf(at))
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), NextPeriodStart(at))
}
