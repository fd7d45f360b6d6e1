package dto

// ProviderStatusResponse 回退链上单个 Provider 的状态
type ProviderStatusResponse struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
}

// CapabilityResponse 单个能力的可用性视图
type CapabilityResponse struct {
	Capability string                   `json:"capability"`
	Metric     string                   `json:"metric"`
	Enabled    bool                     `json:"enabled"`
	Providers  []ProviderStatusResponse `json:"providers"`
}
