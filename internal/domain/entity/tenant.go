// Package entity 定义领域实体
package entity

import (
	"time"
)

// TenantStatus 租户状态
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusTrial     TenantStatus = "trial"
)

// UsageCounter 单个指标的用量计数
type UsageCounter struct {
	Used        int64     `json:"used"`
	Limit       int64     `json:"limit"`
	PeriodStart time.Time `json:"period_start"`
}

// Tenant 租户实体
type Tenant struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	Slug         string                   `json:"slug"`
	PlanTier     string                   `json:"plan_tier"`
	Status       TenantStatus             `json:"status"`
	Features     map[string]bool          `json:"features,omitempty" gorm:"serializer:json"`
	Usage        map[string]*UsageCounter `json:"usage,omitempty" gorm:"serializer:json"`
	CustomDomain string                   `json:"custom_domain,omitempty"`
	TrialEndsAt  *time.Time               `json:"trial_ends_at,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// NewTenant 创建新租户
func NewTenant(name, slug, planTier string) *Tenant {
	now := time.Now()
	return &Tenant{
		Name:      name,
		Slug:      slug,
		PlanTier:  planTier,
		Status:    TenantStatusActive,
		Features:  make(map[string]bool),
		Usage:     make(map[string]*UsageCounter),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive 检查租户是否可以提交任务
// trial 租户在试用期内视同 active
func (t *Tenant) IsActive(now time.Time) bool {
	switch t.Status {
	case TenantStatusActive:
		return true
	case TenantStatusTrial:
		return t.TrialEndsAt == nil || now.Before(*t.TrialEndsAt)
	default:
		return false
	}
}

// FeatureEnabled 检查功能开关
func (t *Tenant) FeatureEnabled(name string) bool {
	if t.Features == nil {
		return false
	}
	return t.Features[name]
}

// ConfigView 附加到请求上下文的租户配置视图
type ConfigView struct {
	TenantID       string             `json:"tenant_id"`
	PlanTier       string             `json:"plan_tier"`
	Status         TenantStatus       `json:"status"`
	Features       map[string]bool    `json:"features"`
	Limits         map[string]int64   `json:"limits"`
	UsagePercent   map[string]float64 `json:"usage_percent"`
	TrialDaysLeft  int                `json:"trial_days_left,omitempty"`
	CustomDomain   string             `json:"custom_domain,omitempty"`
}

// DeriveView 从租户实体派生配置视图
func (t *Tenant) DeriveView(now time.Time) *ConfigView {
	view := &ConfigView{
		TenantID:     t.ID,
		PlanTier:     t.PlanTier,
		Status:       t.Status,
		Features:     t.Features,
		Limits:       make(map[string]int64),
		UsagePercent: make(map[string]float64),
		CustomDomain: t.CustomDomain,
	}

	for metric, counter := range t.Usage {
		view.Limits[metric] = counter.Limit
		if counter.Limit > 0 {
			view.UsagePercent[metric] = float64(counter.Used) / float64(counter.Limit) * 100
		}
	}

	if t.Status == TenantStatusTrial && t.TrialEndsAt != nil {
		left := int(t.TrialEndsAt.Sub(now).Hours() / 24)
		if left < 0 {
			left = 0
		}
		view.TrialDaysLeft = left
	}

	return view
}
