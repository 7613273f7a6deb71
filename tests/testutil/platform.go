package testutil

import (
	"context"
	"sync"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
)

// FakePlatform serves in-memory collections page by page
type FakePlatform struct {
	code     integration.PlatformCode
	pageSize int

	mu          sync.Mutex
	records     map[ledger.EntityType][]integration.ExternalRecord
	failures    map[ledger.EntityType]error
	unsupported map[ledger.EntityType]bool
	calls       map[ledger.EntityType]int
	// BeforePage runs before a page is served
	BeforePage func(req integration.PageRequest)
}

// NewFakePlatform creates a platform that supports every entity type
func NewFakePlatform(code integration.PlatformCode, pageSize int) *FakePlatform {
	return &FakePlatform{
		code:        code,
		pageSize:    pageSize,
		records:     make(map[ledger.EntityType][]integration.ExternalRecord),
		failures:    make(map[ledger.EntityType]error),
		unsupported: make(map[ledger.EntityType]bool),
		calls:       make(map[ledger.EntityType]int),
	}
}

// WithRecords sets the collection of t
func (p *FakePlatform) WithRecords(t ledger.EntityType, records []integration.ExternalRecord) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[t] = records
	return p
}

// FailWith makes every page request of t return err
func (p *FakePlatform) FailWith(t ledger.EntityType, err error) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[t] = err
	return p
}

// Unsupport removes t from the platform's entity types
func (p *FakePlatform) Unsupport(t ledger.EntityType) *FakePlatform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsupported[t] = true
	return p
}

// Calls returns how many pages of t were requested
func (p *FakePlatform) Calls(t ledger.EntityType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[t]
}

func (p *FakePlatform) PlatformCode() integration.PlatformCode { return p.code }
func (p *FakePlatform) PageSize() int                          { return p.pageSize }

func (p *FakePlatform) Supports(t ledger.EntityType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unsupported[t]
}

func (p *FakePlatform) FetchPage(ctx context.Context, req integration.PageRequest) (*integration.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if hook := p.BeforePage; hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[req.EntityType]++
	if p.unsupported[req.EntityType] {
		return nil, integration.ErrUnsupportedEntityType
	}
	if err := p.failures[req.EntityType]; err != nil {
		return nil, err
	}

	all := p.records[req.EntityType]
	if req.ModifiedSince != nil {
		filtered := make([]integration.ExternalRecord, 0, len(all))
		for _, r := range all {
			if r.UpdatedAt == nil || !r.UpdatedAt.Before(*req.ModifiedSince) {
				filtered = append(filtered, r)
			}
		}
		all = filtered
	}
	start := (req.Page - 1) * req.PageSize
	if start >= len(all) {
		return &integration.Page{}, nil
	}
	end := min(start+req.PageSize, len(all))
	return &integration.Page{Records: append([]integration.ExternalRecord(nil), all[start:end]...)}, nil
}

var _ integration.AccountingPlatform = (*FakePlatform)(nil)

// FakeRegistry is a map-backed integration.PlatformRegistry
type FakeRegistry map[integration.PlatformCode]integration.AccountingPlatform

// NewFakeRegistry registers the given platforms
func NewFakeRegistry(platforms ...integration.AccountingPlatform) FakeRegistry {
	r := make(FakeRegistry, len(platforms))
	for _, p := range platforms {
		r[p.PlatformCode()] = p
	}
	return r
}

func (r FakeRegistry) GetPlatform(code integration.PlatformCode) (integration.AccountingPlatform, error) {
	p, ok := r[code]
	if !ok {
		return nil, integration.ErrPlatformNotRegistered
	}
	return p, nil
}

func (r FakeRegistry) ListPlatforms() []integration.AccountingPlatform {
	out := make([]integration.AccountingPlatform, 0, len(r))
	for _, p := range r {
		out = append(out, p)
	}
	return out
}
