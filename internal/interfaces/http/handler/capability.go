package handler

import (
	"sort"

	"github.com/gin-gonic/gin"

	"omnigen-api/internal/infrastructure/provider"
	"omnigen-api/internal/interfaces/http/dto"
	"omnigen-api/internal/interfaces/http/middleware"
	"omnigen-api/pkg/errors"
)

// CapabilityHandler 能力目录处理器
type CapabilityHandler struct {
	registry *provider.Registry
}

// NewCapabilityHandler 创建能力目录处理器
func NewCapabilityHandler(registry *provider.Registry) *CapabilityHandler {
	return &CapabilityHandler{registry: registry}
}

// List 返回平台配置的全部能力及其 Provider 回退链状态
// enabled 按当前租户的功能开关计算
// GET /v1/capabilities
func (h *CapabilityHandler) List(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	if tenant == nil {
		handleError(c, errors.ErrTenantUnresolved)
		return
	}

	capabilities := h.registry.Capabilities()
	sort.Slice(capabilities, func(i, j int) bool { return capabilities[i] < capabilities[j] })

	out := make([]dto.CapabilityResponse, 0, len(capabilities))
	for _, capability := range capabilities {
		descriptors := h.registry.Descriptors(capability)
		providers := make([]dto.ProviderStatusResponse, 0, len(descriptors))
		for _, d := range descriptors {
			providers = append(providers, dto.ProviderStatusResponse{
				Name:      d.Name,
				Priority:  d.Priority,
				Available: d.Available,
			})
		}

		metric := capability.QuotaMetric()
		out = append(out, dto.CapabilityResponse{
			Capability: string(capability),
			Metric:     metric,
			Enabled:    tenant.FeatureEnabled(metric),
			Providers:  providers,
		})
	}

	dto.Success(c, out)
}
