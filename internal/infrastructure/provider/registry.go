package provider

import (
	"fmt"

	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
)

// Registry Provider 注册表
// 持有全部适配器实例与每个能力的有序回退链
type Registry struct {
	adapters map[string]Adapter
	chains   map[entity.Capability][]string
	cfg      config.ProvidersConfig
}

// NewRegistry 根据配置构建注册表
func NewRegistry(cfg config.ProvidersConfig) (*Registry, error) {
	adapters := make(map[string]Adapter, len(cfg.Registry))
	for name, pc := range cfg.Registry {
		switch pc.Kind {
		case "openai":
			adapters[name] = NewOpenAIAdapter(name, pc)
		case "http":
			adapters[name] = NewHTTPAdapter(name, pc)
		default:
			return nil, fmt.Errorf("unknown provider kind %q for provider %s", pc.Kind, name)
		}
	}

	chains := make(map[entity.Capability][]string, len(cfg.Chains))
	for capability, names := range cfg.Chains {
		for _, name := range names {
			if _, ok := adapters[name]; !ok {
				return nil, fmt.Errorf("chain for %s references unregistered provider %s", capability, name)
			}
		}
		chains[entity.Capability(capability)] = names
	}

	return &Registry{adapters: adapters, chains: chains, cfg: cfg}, nil
}

// NewRegistryWithAdapters 用现成的适配器构建注册表，测试时替换真实实现
func NewRegistryWithAdapters(adapters map[string]Adapter, chains map[entity.Capability][]string) *Registry {
	return &Registry{
		adapters: adapters,
		chains:   chains,
		cfg:      config.ProvidersConfig{Registry: map[string]config.ProviderConfig{}},
	}
}

// ChainFor 返回某能力的有序可用适配器链
// 被禁用的 Provider 不参与遍历，链为空时返回 nil
func (r *Registry) ChainFor(capability entity.Capability) []Adapter {
	names, ok := r.chains[capability]
	if !ok {
		return nil
	}
	chain := make([]Adapter, 0, len(names))
	for _, name := range names {
		if pc, ok := r.cfg.Registry[name]; ok && !pc.Enabled {
			continue
		}
		if adapter, ok := r.adapters[name]; ok {
			chain = append(chain, adapter)
		}
	}
	return chain
}

// Get 按名称获取适配器
func (r *Registry) Get(name string) (Adapter, bool) {
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Descriptors 返回某能力链上全部 Provider 的描述，用于健康视图
func (r *Registry) Descriptors(capability entity.Capability) []entity.ProviderDescriptor {
	names := r.chains[capability]
	out := make([]entity.ProviderDescriptor, 0, len(names))
	for i, name := range names {
		available := true
		if pc, ok := r.cfg.Registry[name]; ok {
			available = pc.Enabled
		}
		out = append(out, entity.ProviderDescriptor{
			Name:       name,
			Capability: capability,
			Priority:   i,
			Available:  available,
		})
	}
	return out
}

// Capabilities 返回已配置回退链的全部能力
func (r *Registry) Capabilities() []entity.Capability {
	out := make([]entity.Capability, 0, len(r.chains))
	for capability := range r.chains {
		out = append(out, capability)
	}
	return out
}
