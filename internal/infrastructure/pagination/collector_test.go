package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/fetch"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pagedPlatform serves a fixed number of records in pages
type pagedPlatform struct {
	pageSize int
	total    int
	failPage int

	mu       sync.Mutex
	requests []integration.PageRequest
}

func (p *pagedPlatform) PlatformCode() integration.PlatformCode { return integration.PlatformCodeXero }
func (p *pagedPlatform) PageSize() int                          { return p.pageSize }
func (p *pagedPlatform) Supports(t ledger.EntityType) bool      { return t != ledger.EntityTypeTrackingCategories }

func (p *pagedPlatform) FetchPage(_ context.Context, req integration.PageRequest) (*integration.Page, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if req.Page == p.failPage {
		return nil, errors.New("boom")
	}
	start := (req.Page - 1) * p.pageSize
	var records []integration.ExternalRecord
	for i := start; i < start+p.pageSize && i < p.total; i++ {
		records = append(records, integration.ExternalRecord{
			ExternalID: fmt.Sprintf("R-%04d", i),
			EntityType: req.EntityType,
		})
	}
	return &integration.Page{Records: records}, nil
}

func newTestCollector() *Collector {
	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{Limit: 1000, Window: time.Minute})
	client := fetch.NewClient(limiter, fetch.RetryConfig{MaxAttempts: 1}, zap.NewNop())
	return NewCollector(client, zap.NewNop())
}

func baseRequest() FetchRequest {
	return FetchRequest{
		TenantID:         uuid.New(),
		ExternalTenantID: "org-1",
		EntityType:       ledger.EntityTypeContacts,
	}
}

func TestFetchAll_StopsAtShortPage(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		wantPages int
	}{
		{"short last page", 250, 3},
		{"exact multiple ends with empty page", 200, 3},
		{"empty collection", 0, 1},
		{"single short page", 7, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := &pagedPlatform{pageSize: 100, total: tt.total}
			var progress [][2]int

			records, err := newTestCollector().FetchAll(context.Background(), platform, baseRequest(), func(fetched, total int) {
				progress = append(progress, [2]int{fetched, total})
			})
			require.NoError(t, err)
			assert.Len(t, records, tt.total)
			assert.Len(t, platform.requests, tt.wantPages)
			require.Len(t, progress, tt.wantPages)
			for _, p := range progress {
				assert.Equal(t, p[0], p[1], "total equals fetched while collecting")
			}
			assert.Equal(t, tt.total, progress[len(progress)-1][0])
		})
	}
}

func TestFetchAll_PassesWatermark(t *testing.T) {
	platform := &pagedPlatform{pageSize: 10, total: 5}
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req := baseRequest()
	req.Since = &since

	_, err := newTestCollector().FetchAll(context.Background(), platform, req, nil)
	require.NoError(t, err)
	require.Len(t, platform.requests, 1)
	require.NotNil(t, platform.requests[0].ModifiedSince)
	assert.True(t, since.Equal(*platform.requests[0].ModifiedSince))
	assert.Equal(t, 1, platform.requests[0].Page)
	assert.Equal(t, 10, platform.requests[0].PageSize)
}

func TestFetchAll_PropagatesPageError(t *testing.T) {
	platform := &pagedPlatform{pageSize: 10, total: 50, failPage: 3}
	_, err := newTestCollector().FetchAll(context.Background(), platform, baseRequest(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 3")
}

func TestFetchAll_UnsupportedEntityType(t *testing.T) {
	platform := &pagedPlatform{pageSize: 10}
	req := baseRequest()
	req.EntityType = ledger.EntityTypeTrackingCategories

	_, err := newTestCollector().FetchAll(context.Background(), platform, req, nil)
	assert.ErrorIs(t, err, integration.ErrUnsupportedEntityType)
	assert.Empty(t, platform.requests)
}

func TestFetchAll_ParallelKeepsPageOrder(t *testing.T) {
	platform := &pagedPlatform{pageSize: 10, total: 95}
	req := baseRequest()
	req.ParallelRequests = 4

	records, err := newTestCollector().FetchAll(context.Background(), platform, req, nil)
	require.NoError(t, err)
	require.Len(t, records, 95)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("R-%04d", i), r.ExternalID)
	}
	// pages 1..12 requested in windows of 4; page 10 is the short one
	assert.Len(t, platform.requests, 12)
}

func TestFetchAll_ParallelSharesRateWindow(t *testing.T) {
	platform := &pagedPlatform{pageSize: 10, total: 1000}
	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{Limit: 3, Window: time.Hour})
	collector := NewCollector(fetch.NewClient(limiter, fetch.RetryConfig{MaxAttempts: 1}, zap.NewNop()), zap.NewNop())
	req := baseRequest()
	req.ParallelRequests = 8

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := collector.FetchAll(ctx, platform, req, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrWaitCancelled)
	assert.Len(t, platform.requests, 3)
	assert.Equal(t, 3, limiter.InFlight(RateKey(integration.PlatformCodeXero, "org-1")))
}
