package marketplace

import (
	"fliptools/internal/model"
)

// Registry 平台 -> 适配器，启动时一次性构建
type Registry struct {
	adapters map[model.Platform]Adapter
}

// NewRegistry 创建注册表
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get 获取适配器
func (r *Registry) Get(platform model.Platform) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, &UnknownPlatformError{Platform: string(platform)}
	}
	return a, nil
}

// Platforms 已注册的平台，按 model.Platforms 顺序
func (r *Registry) Platforms() []model.Platform {
	out := make([]model.Platform, 0, len(r.adapters))
	for _, p := range model.Platforms {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
