// Package entity 定义领域实体
package entity

import (
	"time"
)

// UsageLedgerEntry 用量账本条目，(tenant, metric, period) 唯一
type UsageLedgerEntry struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	TenantID  string    `json:"tenant_id" gorm:"index:idx_usage_tenant_metric_period,unique"`
	Metric    string    `json:"metric" gorm:"index:idx_usage_tenant_metric_period,unique"`
	Period    string    `json:"period" gorm:"index:idx_usage_tenant_metric_period,unique"` // YYYY-MM
	Count     int64     `json:"count"`
	Limit     int64     `json:"limit"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PeriodOf 计算某时间点所属的月度周期标识
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodStartOf 计算某时间点所属月度周期的起始时刻
func PeriodStartOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextPeriodStart 计算下一个周期的起始时刻（即本期的重置时间）
func NextPeriodStart(t time.Time) time.Time {
	return PeriodStartOf(t).AddDate(0, 1, 0)
}
