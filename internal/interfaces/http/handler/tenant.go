package handler

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"omnigen-api/internal/application/admission"
	"omnigen-api/internal/domain/entity"
	"omnigen-api/internal/domain/repository"
	"omnigen-api/internal/interfaces/http/dto"
	"omnigen-api/internal/interfaces/http/middleware"
	"omnigen-api/pkg/errors"
)

// TenantHandler 租户自查处理器
type TenantHandler struct {
	enforcer  *admission.Enforcer
	usageRepo repository.UsageRepository
}

// NewTenantHandler 创建租户处理器
func NewTenantHandler(enforcer *admission.Enforcer, usageRepo repository.UsageRepository) *TenantHandler {
	return &TenantHandler{enforcer: enforcer, usageRepo: usageRepo}
}

// Get 返回当前租户的配置视图与实时配额用量
// GET /v1/tenant
func (h *TenantHandler) Get(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	view := middleware.GetTenantView(c)
	if tenant == nil || view == nil {
		handleError(c, errors.ErrTenantUnresolved)
		return
	}

	metrics := make([]string, 0, len(tenant.Usage))
	for metric := range tenant.Usage {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	quotas := make([]dto.QuotaUsageResponse, 0, len(metrics))
	for _, metric := range metrics {
		used, limit := h.enforcer.Snapshot(c.Request.Context(), tenant, metric)
		quotas = append(quotas, dto.QuotaUsageResponse{
			Metric: metric,
			Used:   used,
			Limit:  limit,
		})
	}

	dto.Success(c, dto.ToTenantViewResponse(view, quotas))
}

// Usage 返回当前租户某个周期的用量账本
// 周期缺省为当前月份
// GET /v1/tenant/usage?period=2026-08
func (h *TenantHandler) Usage(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	if tenant == nil {
		handleError(c, errors.ErrTenantUnresolved)
		return
	}

	period := c.Query("period")
	if period == "" {
		period = entity.PeriodOf(time.Now())
	}

	entries, err := h.usageRepo.ListByTenant(c.Request.Context(), tenant.ID, period)
	if err != nil {
		handleError(c, err)
		return
	}

	dto.Success(c, dto.ToUsageEntryResponses(entries))
}
