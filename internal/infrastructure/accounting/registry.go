package accounting

import (
	"fmt"
	"sort"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
)

// Registry holds the configured platform adapters
type Registry struct {
	platforms map[integration.PlatformCode]integration.AccountingPlatform
}

// NewRegistry creates a registry; a later adapter for the same code replaces an earlier one
func NewRegistry(platforms ...integration.AccountingPlatform) *Registry {
	r := &Registry{platforms: make(map[integration.PlatformCode]integration.AccountingPlatform, len(platforms))}
	for _, p := range platforms {
		r.platforms[p.PlatformCode()] = p
	}
	return r
}

// GetPlatform returns the adapter for a platform
func (r *Registry) GetPlatform(code integration.PlatformCode) (integration.AccountingPlatform, error) {
	p, ok := r.platforms[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrPlatformNotRegistered, code)
	}
	return p, nil
}

// ListPlatforms returns the adapters ordered by code
func (r *Registry) ListPlatforms() []integration.AccountingPlatform {
	out := make([]integration.AccountingPlatform, 0, len(r.platforms))
	for _, p := range r.platforms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlatformCode() < out[j].PlatformCode()
	})
	return out
}

var _ integration.PlatformRegistry = (*Registry)(nil)
