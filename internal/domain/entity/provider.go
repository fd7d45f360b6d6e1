// Package entity 定义领域实体
package entity

// ProviderDescriptor 描述某个能力回退链中的一个 Provider
type ProviderDescriptor struct {
	Name       string     `json:"name"`
	Capability Capability `json:"capability"`
	// Priority 在能力回退链中的序位，数字越小优先级越高，链内全序
	Priority  int  `json:"priority"`
	Available bool `json:"available"`
}
