package dto

import (
	"time"

	"omnigen-api/internal/domain/entity"
)

// QuotaUsageResponse 单个指标的配额用量
type QuotaUsageResponse struct {
	Metric string `json:"metric"`
	Used   int64  `json:"used"`
	Limit  int64  `json:"limit"`
}

// TenantViewResponse 租户自查视图响应
type TenantViewResponse struct {
	TenantID      string               `json:"tenant_id"`
	PlanTier      string               `json:"plan_tier"`
	Status        string               `json:"status"`
	Features      map[string]bool      `json:"features"`
	Quotas        []QuotaUsageResponse `json:"quotas"`
	TrialDaysLeft int                  `json:"trial_days_left,omitempty"`
	CustomDomain  string               `json:"custom_domain,omitempty"`
}

// ToTenantViewResponse 由配置视图与实时用量构建响应
func ToTenantViewResponse(view *entity.ConfigView, quotas []QuotaUsageResponse) *TenantViewResponse {
	return &TenantViewResponse{
		TenantID:      view.TenantID,
		PlanTier:      view.PlanTier,
		Status:        string(view.Status),
		Features:      view.Features,
		Quotas:        quotas,
		TrialDaysLeft: view.TrialDaysLeft,
		CustomDomain:  view.CustomDomain,
	}
}

// UsageEntryResponse 单条用量账本记录
type UsageEntryResponse struct {
	Metric    string `json:"metric"`
	Period    string `json:"period"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	UpdatedAt string `json:"updated_at"`
}

// ToUsageEntryResponses 转换账本条目列表
func ToUsageEntryResponses(entries []*entity.UsageLedgerEntry) []UsageEntryResponse {
	out := make([]UsageEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, UsageEntryResponse{
			Metric:    e.Metric,
			Period:    e.Period,
			Count:     e.Count,
			Limit:     e.Limit,
			UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
